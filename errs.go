// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package lfqueue

import "github.com/gofreaks/lfqueue/internal/cerr"

// ErrEmpty describes a Remove that observed the queue empty at the
// operation's linearization point. Remove itself reports that case with
// ok == false rather than returning this value; otlfqueue's logging
// decorator attaches it to its "observed empty" log lines. It is not a
// failure mode: callers that want blocking semantics should retry.
const ErrEmpty = cerr.Error("lfqueue: queue observed empty")
