package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

var ErrNoWallets = errors.New("wallets: EVM_WALLETS or EVM_WALLETS_JSON must be a non-empty JSON array")

// WalletRecord is one configured signer. PrivateKey never leaves process memory.
type WalletRecord struct {
	ID         int64
	Name       string
	PrivateKey string
}

func (w WalletRecord) String() string {
	return fmt.Sprintf("wallet{id=%d name=%q}", w.ID, w.Name)
}

type rawWallet struct {
	ID         json.RawMessage `json:"id"`
	Name       *string         `json:"name"`
	PrivateKey string          `json:"privateKey"`
}

var walletKeys = []string{"EVM_WALLETS", "EVM_WALLETS_JSON"}

// LoadDotenv loads a .env file into the process environment without overriding existing vars.
// A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadWallets reads the wallet list from the environment, falling back to an unquoted
// multi-line JSON value in the .env file at envPath.
func LoadWallets(envPath string) ([]WalletRecord, error) {
	var raw string
	for _, k := range walletKeys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			raw = v
			break
		}
	}

	var items []rawWallet
	parseErr := ErrNoWallets
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			parseErr = fmt.Errorf("wallets: parse EVM_WALLETS: %w", err)
			items = nil
		}
	}
	if items == nil {
		for _, k := range walletKeys {
			v, ok := multilineFromDotenv(envPath, k)
			if !ok {
				continue
			}
			if err := json.Unmarshal([]byte(v), &items); err == nil {
				break
			}
			items = nil
		}
	}
	if items == nil {
		return nil, parseErr
	}
	return parseWallets(items)
}

// parseWallets validates raw records: non-empty, integer ids, 0x keys, unique ids.
func parseWallets(items []rawWallet) ([]WalletRecord, error) {
	if len(items) == 0 {
		return nil, ErrNoWallets
	}
	out := make([]WalletRecord, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for i, it := range items {
		id, err := parseID(string(it.ID))
		if err != nil {
			return nil, fmt.Errorf("EVM_WALLETS[%d].id: %w", i, err)
		}
		pk := strings.TrimSpace(it.PrivateKey)
		if !strings.HasPrefix(pk, "0x") {
			return nil, fmt.Errorf("EVM_WALLETS[%d].privateKey: must start with 0x", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("EVM_WALLETS: duplicate id %d", id)
		}
		seen[id] = struct{}{}
		var name string
		if it.Name != nil {
			name = strings.TrimSpace(*it.Name)
		}
		out = append(out, WalletRecord{ID: id, Name: name, PrivateKey: pk})
	}
	return out, nil
}

// ParseWalletsJSON validates a JSON array.
func ParseWalletsJSON(raw string) ([]WalletRecord, error) {
	var items []rawWallet
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("wallets: %w", err)
	}
	return parseWallets(items)
}

var commentLine = regexp.MustCompile(`^\s*#.*$`)

// multilineFromDotenv collects KEY=[ ... ] spanning several lines up to the first ']'.
func multilineFromDotenv(path, key string) (string, bool) {
	if path == "" {
		path = ".env"
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var (
		buf     strings.Builder
		started bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !started {
			k, v, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(k) != key {
				continue
			}
			started = true
			line = v
		}
		buf.WriteString(commentLine.ReplaceAllString(line, ""))
		buf.WriteByte('\n')
		if strings.Contains(line, "]") {
			break
		}
	}
	out := strings.TrimSpace(buf.String())
	return out, started && out != ""
}
