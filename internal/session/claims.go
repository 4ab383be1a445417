package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when an ID token payload cannot be decoded
var ErrMalformedToken = errors.New("malformed id token")

// claimRenames maps JWT claim names onto session claim names. Claims not
// listed keep their own name.
var claimRenames = map[string]string{
	"sub": ClaimNameIdentifier,
}

// parser is only used for segment decoding. The ID token arrives straight
// from the tenant's token endpoint over TLS and is never accepted from the
// browser.
var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeClaims reads the payload of a compact JWT into a multi-valued claim
// set. Only the middle segment is read; the header and signature are not
// inspected.
func DecodeClaims(idToken string) (map[string][]string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}

	claims := make(map[string][]string, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if renamed, ok := claimRenames[k]; ok {
			name = renamed
		}
		values, err := claimValues(raw[k])
		if err != nil {
			return nil, fmt.Errorf("%w: claim %s: %v", ErrMalformedToken, k, err)
		}
		for _, v := range values {
			claims[name] = appendUnique(claims[name], v)
		}
	}
	return claims, nil
}

func claimValues(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		s, present, err := claimString(v)
		if err != nil || !present {
			return nil, err
		}
		return []string{s}, nil
	}

	out := make([]string, 0, len(arr))
	for _, el := range arr {
		s, present, err := claimString(el)
		if err != nil {
			return nil, err
		}
		if present {
			out = append(out, s)
		}
	}
	return out, nil
}

// claimString renders a scalar claim. Null reports present=false.
func claimString(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true, nil
		}
		f, err := t.Float64()
		if err != nil {
			return "", false, err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false, err
		}
		return string(b), true, nil
	}
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
