// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package core

import (
	"crypto/sha1"
	"crypto/sha256"
)

// VerifyPieceV1 reports whether data hashes to want under BEP3's SHA-1
// piece digest.
func VerifyPieceV1(data []byte, want [20]byte) bool {
	return sha1.Sum(data) == want
}

// VerifyPieceV2 reports whether data hashes to want under BEP52's SHA-256
// leaf digest. This checks the leaf digest only, not the full merkle piece
// layer a reference BEP52 client would also verify the leaf against; see
// core.Metadata.PieceHashV2 for the simplified flat per-piece hash set this
// engine stores in place of piece layers.
func VerifyPieceV2(data []byte, want [32]byte) bool {
	return sha256.Sum256(data) == want
}
