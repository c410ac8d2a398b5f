package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/pkg/gatewayclient"
)

// clientFlags are shared by the commands that talk to a running gateway.
type clientFlags struct {
	url      string
	token    string
	clientID string
	encoding string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "gateway WebSocket URL (default: from config)")
	cmd.Flags().StringVar(&f.token, "token", "", "auth token (default: authToken from config)")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "client id; reuse it to resume missed events")
	cmd.Flags().StringVar(&f.encoding, "encoding", "json", "frame encoding: json or cbor")
}

// wsURL derives the controlling socket address from the config.
func wsURL(cfg *config.Config) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(cfg.WSPort)) + "/ws"
}

func (f *clientFlags) dial(ctx context.Context) (*gatewayclient.Client, error) {
	opts := gatewayclient.Options{
		URL:      f.url,
		Token:    f.token,
		ClientID: f.clientID,
		Encoding: f.encoding,
	}
	if opts.URL == "" || opts.Token == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if opts.URL == "" {
			opts.URL = wsURL(cfg)
		}
		if opts.Token == "" {
			opts.Token = cfg.AuthToken
		}
	}

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := gatewayclient.Dial(dctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.URL, err)
	}
	return c, nil
}
