package optionscache

import (
	"bytes"
	"encoding/json"

	"github.com/Keksclan/optionscache/snapshot"
)

// Expiration is the cached contract list of one expiration date.
type Expiration struct {
	Date        string
	CallOptions []snapshot.ContractRecord
}

// Chain is the result of a lookup: the expirations found for a ticker and
// the staleness of the oldest one, in whole seconds.
type Chain struct {
	Ticker      string
	Expirations []Expiration
	Delay       int
}

// Dates returns the expiration dates in result order.
func (c Chain) Dates() []string {
	out := make([]string, len(c.Expirations))
	for i, e := range c.Expirations {
		out[i] = e.Date
	}
	return out
}

// Lookup returns the contracts of one expiration.
func (c Chain) Lookup(date string) ([]snapshot.ContractRecord, bool) {
	for _, e := range c.Expirations {
		if e.Date == date {
			return e.CallOptions, true
		}
	}
	return nil, false
}

// Empty reports whether the chain has no expirations.
func (c Chain) Empty() bool {
	return len(c.Expirations) == 0
}

// MarshalJSON renders the chain as
//
//	{"2025-01-17": {"call_options": [...]}, ..., "delay": 40}
//
// with expirations in result order.
func (c Chain) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, e := range c.Expirations {
		date, err := json.Marshal(e.Date)
		if err != nil {
			return nil, err
		}
		calls := e.CallOptions
		if calls == nil {
			calls = []snapshot.ContractRecord{}
		}
		body, err := json.Marshal(struct {
			CallOptions []snapshot.ContractRecord `json:"call_options"`
		}{calls})
		if err != nil {
			return nil, err
		}
		buf.Write(date)
		buf.WriteByte(':')
		buf.Write(body)
		buf.WriteByte(',')
	}
	buf.WriteString(`"delay":`)
	delay, _ := json.Marshal(c.Delay)
	buf.Write(delay)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses the form written by MarshalJSON. Expirations come
// back sorted by date since JSON objects carry no order.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Chain{Ticker: c.Ticker}
	if d, ok := raw["delay"]; ok {
		if err := json.Unmarshal(d, &c.Delay); err != nil {
			return err
		}
		delete(raw, "delay")
	}
	for date, body := range raw {
		var e struct {
			CallOptions []snapshot.ContractRecord `json:"call_options"`
		}
		if err := json.Unmarshal(body, &e); err != nil {
			return err
		}
		c.Expirations = append(c.Expirations, Expiration{Date: date, CallOptions: e.CallOptions})
	}
	sortExpirations(c.Expirations)
	return nil
}
