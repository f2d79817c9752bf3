package api

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
)

const maxBody = 1 << 20

// params holds query parameters (GET) or the decoded JSON body (POST).
type params map[string]any

func readParams(r *http.Request) (params, error) {
	p := params{}
	if r.Method == http.MethodGet {
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				p[k] = v[0]
			}
		}
		return p, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("payload too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p params) has(k string) bool {
	v, ok := p[k]
	return ok && v != nil
}

func (p params) str(k string) string {
	v, ok := p[k]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func (p params) float(k string) (float64, error) {
	f, err := strconv.ParseFloat(p.str(k), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: not a number", k)
	}
	return f, nil
}

func (p params) bool(k string) bool {
	switch strings.ToLower(p.str(k)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func (p params) address(k string) (common.Address, bool) {
	s := p.str(k)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// integer accepts "12", 12 and 12.0.
func (p params) integer(k string) (int64, error) {
	s := p.str(k)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%s: not an integer", k)
	}
	return int64(f), nil
}

// wei parses a non-negative base-10 integer.
func (p params) wei(k string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(p.str(k), 10)
	if !ok {
		return nil, fmt.Errorf("%s: not a decimal integer", k)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: negative", k)
	}
	return v, nil
}

// units parses a decimal amount with the given decimals.
func (p params) units(k string, decimals int32) (*big.Int, error) {
	return quote.ParseUnits(p.str(k), decimals)
}
