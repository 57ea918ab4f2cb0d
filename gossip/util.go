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

package gossip

import (
	"encoding/json"
	"strconv"

	"github.com/Alalun/catena/transport"
)

func unmarshalEnvelope(env transport.Envelope, v interface{}) error {
	return json.Unmarshal(env.Raw, v)
}

func itoa(n int) string { return strconv.Itoa(n) }

func parsePort(s string) (int, error) { return strconv.Atoi(s) }
