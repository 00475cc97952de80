// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Package txn implements the per-stream transaction core shared by HTTP/1.x,
// HTTP/2, and HTTP/3 server and client sessions: the dual ingress/egress
// state machine, flow-control windows, deferred queues, pacing, and the
// pause/resume coordination between a codec-facing transport and an
// application handler.
//
// A Transaction never touches wire bytes. It is driven on one side by a
// Transport (a codec) delivering ingress events and accepting egress writes,
// and on the other by a Handler (application logic) consuming ingress and
// producing egress. Both sides are plain interfaces so HTTP/1, HTTP/2, and
// HTTP/3 codecs share one engine.
package txn
