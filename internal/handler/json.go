package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/apperr"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// decodeObject reads a JSON object body and calls field for each key.
// Field decoders record type errors in inv instead of failing. An empty body
// is accepted only when optional is set.
func decodeObject(r *http.Request, optional bool, field func(d *jx.Decoder, key string, inv *apperr.Invalid) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return apperr.InvalidField("body", "unreadable request body")
	}
	if len(body) > maxJSONBody {
		return apperr.InvalidField("body", "request body too large")
	}

	var inv apperr.Invalid
	d := jx.DecodeBytes(body)
	if d.Next() == jx.Invalid {
		if optional {
			return nil
		}
		return apperr.InvalidField("body", "request body is required")
	}
	if d.Next() != jx.Object {
		return apperr.InvalidField("body", "request body must be a JSON object")
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key), &inv)
	}); err != nil {
		return apperr.InvalidField("body", "malformed JSON")
	}
	return inv.Err()
}

func readString(d *jx.Decoder, inv *apperr.Invalid, field string) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Null:
		return "", d.Null()
	default:
		inv.Add(field, "must be a string")
		return "", d.Skip()
	}
}

func readInt(d *jx.Decoder, inv *apperr.Invalid, field string) (int, error) {
	if d.Next() != jx.Number {
		inv.Add(field, "must be an integer")
		return 0, d.Skip()
	}
	n, err := d.Num()
	if err != nil {
		return 0, err
	}
	v, err := n.Int64()
	if err != nil {
		inv.Add(field, "must be an integer")
		return 0, nil
	}
	return int(v), nil
}

func readBool(d *jx.Decoder, inv *apperr.Invalid, field string) (bool, error) {
	if d.Next() != jx.Bool {
		inv.Add(field, "must be a boolean")
		return false, d.Skip()
	}
	return d.Bool()
}

func readStrings(d *jx.Decoder, inv *apperr.Invalid, field string) ([]string, error) {
	if d.Next() != jx.Array {
		inv.Add(field, "must be an array of strings")
		return nil, d.Skip()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.String {
			inv.Add(field, "must be an array of strings")
			return d.Skip()
		}
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	writeRaw(w, status, e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func optString(e *jx.Encoder, s *string) {
	if s == nil {
		e.Null()
		return
	}
	e.Str(*s)
}

func optTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	timestamp(e, *t)
}
