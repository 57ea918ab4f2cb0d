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

package hash

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestHashRoundTrip(t *testing.T) {
	Convey("Given a hash computed from some bytes", t, func() {
		h := Sum([]byte("catena genesis"))

		Convey("its hex string round-trips through FromString", func() {
			h2, err := FromString(h.String())
			So(err, ShouldBeNil)
			So(h2.IsEqual(&h), ShouldBeTrue)
		})

		Convey("its JSON form round-trips", func() {
			b, err := json.Marshal(h)
			So(err, ShouldBeNil)
			var h3 Hash
			So(json.Unmarshal(b, &h3), ShouldBeNil)
			So(h3.IsEqual(&h), ShouldBeTrue)
		})

		Convey("the zero hash IsZero", func() {
			var z Hash
			So(z.IsZero(), ShouldBeTrue)
			So(h.IsZero(), ShouldBeFalse)
		})
	})
}

func TestDifficulty(t *testing.T) {
	Convey("Given hashes with known leading zero bits", t, func() {
		var h Hash
		So(h.Difficulty(), ShouldEqual, Size*8)

		h[0] = 0x0f
		So(h.Difficulty(), ShouldEqual, 4)

		h[0] = 0x00
		h[1] = 0x80
		So(h.Difficulty(), ShouldEqual, 8)
	})
}

func TestSetBytesRejectsWrongLength(t *testing.T) {
	var h Hash
	if err := h.SetBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for wrong length")
	}
}
