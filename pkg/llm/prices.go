// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import "strings"

// Price is the per-million-token cost of a model family in USD.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultPrice is the fallback for unrecognized models. It assumes the most
// expensive family so estimates err high rather than low.
var DefaultPrice = Price{InputPerMTok: 15.0, OutputPerMTok: 75.0}

// modelFamilies maps model-id substrings to prices; first match wins.
var modelFamilies = []struct {
	match string
	price Price
}{
	{"opus", Price{InputPerMTok: 15.0, OutputPerMTok: 75.0}},
	{"sonnet", Price{InputPerMTok: 3.0, OutputPerMTok: 15.0}},
	{"haiku", Price{InputPerMTok: 0.80, OutputPerMTok: 4.0}},
}

// PriceFor returns the price for a model id, matching on the family name
// embedded in the id ("claude-sonnet-4-5-20250929" → sonnet pricing).
func PriceFor(model string) Price {
	m := strings.ToLower(model)
	for _, f := range modelFamilies {
		if strings.Contains(m, f.match) {
			return f.price
		}
	}
	return DefaultPrice
}

// Cost estimates the USD cost of an exchange from its token counts.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p := PriceFor(model)
	return float64(inputTokens)*p.InputPerMTok/1_000_000 +
		float64(outputTokens)*p.OutputPerMTok/1_000_000
}
