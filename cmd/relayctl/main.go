package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "relayctl",
		Usage:   "query a running relay over its HTTP API",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://127.0.0.1:8080",
				Usage:   "relay base URL",
				EnvVars: []string{"RELAY_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 15 * time.Second,
				Usage: "per-request timeout",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "quote",
				Usage: "price a trade without sending it",
				Subcommands: []*cli.Command{
					quoteBuyCommand(),
					quoteSellCommand(),
				},
			},
			statusCommand(),
			txCommand(),
			balancesCommand(),
			walletsCommand(),
		},
	}
}

type apiClient struct {
	base string
	http *http.Client
	out  io.Writer
}

func client(c *cli.Context) *apiClient {
	return &apiClient{
		base: strings.TrimRight(c.String("server"), "/"),
		http: &http.Client{Timeout: c.Duration("timeout")},
		out:  c.App.Writer,
	}
}

// get fetches path with q and decodes the body; non-2xx answers become errors carrying the API code.
func (a *apiClient) get(ctx context.Context, path string, q url.Values) (map[string]any, error) {
	u := a.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("GET %s: decode %d response: %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 {
		return body, fmt.Errorf("%s (%d): %v", body["error"], resp.StatusCode, body["message"])
	}
	return body, nil
}

func (a *apiClient) print(body map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return err
	}
	_, err := a.out.Write(buf.Bytes())
	return err
}

func (a *apiClient) show(ctx context.Context, path string, q url.Values) error {
	body, err := a.get(ctx, path, q)
	if err != nil {
		return err
	}
	return a.print(body)
}

func tokenArg(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("token address is required")
	}
	return c.Args().Get(0), nil
}

func walletFlag(required bool) *cli.Int64Flag {
	return &cli.Int64Flag{Name: "wallet", Aliases: []string{"w"}, Usage: "wallet id", Required: required}
}

func slippageFlag() *cli.Float64Flag {
	return &cli.Float64Flag{Name: "slippage", Value: 2, Usage: "slippage percent"}
}

func quoteBuyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "quote spending BNB on a token",
		ArgsUsage: "TOKEN",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bnb", Value: "0", Usage: "BNB to spend; 0 prices one BNB as a dry run"},
			slippageFlag(),
			walletFlag(false),
		},
		Action: func(c *cli.Context) error {
			token, err := tokenArg(c)
			if err != nil {
				return err
			}
			q := url.Values{"token": {token}, "bnb_cost": {c.String("bnb")}}
			q.Set("slippage", fmt.Sprint(c.Float64("slippage")))
			if c.IsSet("wallet") {
				q.Set("walletId", fmt.Sprint(c.Int64("wallet")))
			}
			return client(c).show(c.Context, "/api/bsc/quote/buy", q)
		},
	}
}

func quoteSellCommand() *cli.Command {
	return &cli.Command{
		Name:      "sell",
		Usage:     "quote selling a token for BNB",
		ArgsUsage: "TOKEN",
		Flags: []cli.Flag{
			walletFlag(true),
			&cli.Float64Flag{Name: "percent", Usage: "percent of the wallet balance"},
			&cli.StringFlag{Name: "amount-wei", Usage: "exact token amount in base units"},
			slippageFlag(),
		},
		Action: func(c *cli.Context) error {
			token, err := tokenArg(c)
			if err != nil {
				return err
			}
			q := url.Values{"token": {token}, "walletId": {fmt.Sprint(c.Int64("wallet"))}}
			q.Set("slippage", fmt.Sprint(c.Float64("slippage")))
			switch {
			case c.IsSet("amount-wei"):
				q.Set("amount_wei", c.String("amount-wei"))
			case c.IsSet("percent"):
				q.Set("percent", fmt.Sprint(c.Float64("percent")))
			default:
				return fmt.Errorf("one of --percent or --amount-wei is required")
			}
			return client(c).show(c.Context, "/api/bsc/quote/sell", q)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show where a token trades",
		ArgsUsage: "TOKEN",
		Action: func(c *cli.Context) error {
			token, err := tokenArg(c)
			if err != nil {
				return err
			}
			return client(c).show(c.Context, "/api/bsc/trading-status", url.Values{"token": {token}})
		},
	}
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "show a transaction's status",
		ArgsUsage: "HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "poll until mined or reverted"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "poll interval with --wait"},
			&cli.DurationFlag{Name: "max-wait", Value: 2 * time.Minute, Usage: "give up waiting after this long"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction hash is required")
			}
			a := client(c)
			q := url.Values{"hash": {c.Args().Get(0)}}
			if !c.Bool("wait") {
				return a.show(c.Context, "/api/bsc/tx/status", q)
			}
			body, err := waitFinal(c.Context, a, q, c.Duration("interval"), c.Duration("max-wait"))
			if err != nil {
				return err
			}
			return a.print(body)
		},
	}
}

// waitFinal polls tx/status until success or failed; on timeout it returns the last answer.
func waitFinal(ctx context.Context, a *apiClient, q url.Values, interval, maxWait time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	var last map[string]any
	for {
		body, err := a.get(ctx, "/api/bsc/tx/status", q)
		switch {
		case err == nil:
			last = body
			if s := body["status"]; s == "success" || s == "failed" {
				return body, nil
			}
		case ctx.Err() == nil:
			return nil, err
		}
		select {
		case <-ctx.Done():
			if last == nil {
				return nil, ctx.Err()
			}
			return last, nil
		case <-tick.C:
		}
	}
}

func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:  "balances",
		Usage: "show a wallet's BNB and optional token balance",
		Flags: []cli.Flag{
			walletFlag(true),
			&cli.StringFlag{Name: "token", Usage: "token address"},
		},
		Action: func(c *cli.Context) error {
			q := url.Values{"walletId": {fmt.Sprint(c.Int64("wallet"))}}
			if t := c.String("token"); t != "" {
				q.Set("token", t)
			}
			return client(c).show(c.Context, "/api/bsc/balances", q)
		},
	}
}

func walletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallets",
		Usage: "list configured wallets",
		Action: func(c *cli.Context) error {
			return client(c).show(c.Context, "/api/wallets", nil)
		},
	}
}
