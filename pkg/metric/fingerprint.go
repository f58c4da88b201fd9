// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metric

import "hash/crc32"

// Fingerprint is a short hash identifying a timeseries: a metric name
// plus its canonicalized tag set. Collisions are accepted by design —
// worst case two series share an aggregation bucket or a cardinality
// slot, which is a harmless merge, not a correctness violation.
type Fingerprint uint32

// Fingerprint computes the fingerprint of v. The second return value is
// false for an opaque view, which has no computable identity.
func (v *View) Fingerprint() (Fingerprint, bool) {
	if v.opaque {
		return 0, false
	}
	h := crc32.NewIEEE()
	h.Write(v.name)
	for _, tag := range sortedUniqueTagStrings(v.tags) {
		h.Write([]byte{0})
		h.Write(tag)
	}
	return Fingerprint(h.Sum32()), true
}
