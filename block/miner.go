/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package block

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/log"
)

// ErrMiningAborted is returned by Mine when abort fires before a
// qualifying nonce is found.
var ErrMiningAborted = errors.New("mining aborted")

// Mine increments b.Nonce from 0 until SHA256(bytes-for-signing) meets
// difficulty's leading-zero-bit target, cooperatively checking abort so a
// mining goroutine can be cancelled the moment a better block arrives on
// the network.
func Mine(b *Block, difficulty int, abort <-chan struct{}) error {
	payload, err := b.payloadForSigning()
	if err != nil {
		return err
	}
	prefix, err := bytesForSigningPrefix(b)
	if err != nil {
		return err
	}

	best := 0
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-abort:
			return ErrMiningAborted
		default:
		}

		buf := make([]byte, 0, len(prefix)+8+len(payload))
		buf = append(buf, prefix...)
		buf = binary.BigEndian.AppendUint64(buf, nonce)
		buf = append(buf, payload...)

		h := hash.Sum(buf)
		d := h.Difficulty()
		if d >= difficulty {
			b.Nonce = nonce
			b.Signature = h
			return nil
		}
		if d > best {
			best = d
			log.Debugf("mining block index=%d best difficulty so far=%d", b.Index, best)
		}
	}
}

// bytesForSigningPrefix renders everything that precedes the nonce in the
// bytes-for-signing layout, so the mining loop can append a fresh 8-byte
// nonce each iteration without re-serializing the header every time.
func bytesForSigningPrefix(b *Block) ([]byte, error) {
	tmp := *b
	tmp.Nonce = 0
	full, err := tmp.BytesForSigning()
	if err != nil {
		return nil, err
	}
	// full = version(4) + index(8) + previous(32) + miner(32) + timestamp(8) + nonce(8) + payload
	const headerLen = 4 + 8 + hash.Size + hash.Size + 8
	return full[:headerLen], nil
}
