// Package main implements rangemasterctl, the administrative CLI for the
// range-table master: one subcommand per wire-protocol command, dialing
// the master's gRPC service with the same JSON codec the server speaks.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hyperrange/rangemaster/pkg/api"
	"github.com/hyperrange/rangemaster/pkg/security"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rangemasterctl",
	Short:   "rangemasterctl is the range-table master's administrative CLI",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "localhost:38050", "Master gRPC address")
	rootCmd.PersistentFlags().String("cert-dir", "", "Client certificate directory (defaults to the CLI cert dir under $HOME)")
	rootCmd.PersistentFlags().Bool("insecure", false, "Skip TLS entirely and dial addr over plaintext (local socket only)")

	rootCmd.AddCommand(statusCmd, systemStatusCmd, createTableCmd, dropTableCmd, registerServerCmd,
		moveRangeCmd, balanceCmd, stopCmd, fetchResultCmd, applyCmd)
}

// dial connects to the master's gRPC service using the JSON wire codec.
// With --insecure it dials plaintext, the mode for talking to the local
// read-only Unix-socket listener; otherwise it trusts the cluster CA
// loaded from --cert-dir the same way every other internal client does.
func dial(cmd *cobra.Command) (*grpc.ClientConn, error) {
	addr, _ := cmd.Flags().GetString("addr")
	insecureFlag, _ := cmd.Flags().GetBool("insecure")

	if insecureFlag {
		return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")))
	}

	certDir, _ := cmd.Flags().GetString("cert-dir")
	if certDir == "" {
		d, err := security.GetCLICertDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve CLI certificate directory: %w", err)
		}
		certDir = d
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate from %s: %w", certDir, err)
	}
	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{RootCAs: certPool, MinVersion: tls.VersionTLS13}
	if security.CertExists(certDir) {
		cert, err := security.LoadCertFromFile(certDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{*cert}
	}

	creds := credentials.NewTLS(tlsConfig)
	return grpc.NewClient(addr, grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")))
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the master is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp := new(api.StatusResponse)
		ctx, cancel := callContext()
		defer cancel()
		if err := conn.Invoke(ctx, "/master.Master/Status", &api.StatusRequest{}, resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var systemStatusCmd = &cobra.Command{
	Use:   "system-status",
	Short: "Report cluster-wide membership and balance state",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp := new(api.SystemStatusResponse)
		ctx, cancel := callContext()
		defer cancel()
		if err := conn.Invoke(ctx, "/master.Master/SystemStatus", &api.SystemStatusRequest{}, resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var createTableCmd = &cobra.Command{
	Use:   "create-table NAME",
	Short: "Submit a CreateTable operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, _ := cmd.Flags().GetString("schema")
		return submitAndWait(cmd, "/master.Master/CreateTable", &api.CreateTableRequest{TableName: args[0], Schema: schema})
	},
}

var dropTableCmd = &cobra.Command{
	Use:   "drop-table NAME",
	Short: "Submit a DropTable operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ifExists, _ := cmd.Flags().GetBool("if-exists")
		return submitAndWait(cmd, "/master.Master/DropTable", &api.DropTableRequest{TableName: args[0], IfExists: ifExists})
	},
}

var moveRangeCmd = &cobra.Command{
	Use:   "move-range TABLE START_ROW",
	Short: "Submit a MoveRange operation for a range's destination",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		return submitAndWait(cmd, "/master.Master/MoveRange",
			&api.MoveRangeRequest{Source: source, Table: args[0], StartRow: args[1]})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance ALGORITHM",
	Short: "Submit a Balance operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitAndWait(cmd, "/master.Master/Balance", &api.BalanceRequest{Algorithm: args[0]})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop PROXY",
	Short: "Remove a range server, optionally starting recovery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recover, _ := cmd.Flags().GetBool("recover")
		return submitAndWait(cmd, "/master.Master/Stop", &api.StopRequest{Proxy: args[0], Recover: recover})
	},
}

var registerServerCmd = &cobra.Command{
	Use:   "register-server HOSTNAME LOCAL_ADDR PUBLIC_ADDR",
	Short: "Register a range server, minting a proxy name if one isn't supplied",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp := new(api.RegisterServerResponse)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		req := &api.RegisterServerRequest{
			Hostname:   args[0],
			LocalAddr:  args[1],
			PublicAddr: args[2],
			ClientTS:   time.Now().UnixMicro(),
		}
		if err := conn.Invoke(ctx, "/master.Master/RegisterServer", req, resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var fetchResultCmd = &cobra.Command{
	Use:   "fetch-result OPERATION_ID",
	Short: "Fetch the outcome of a previously submitted operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opID int64
		if _, err := fmt.Sscanf(args[0], "%d", &opID); err != nil {
			return fmt.Errorf("invalid operation id %q: %w", args[0], err)
		}

		conn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp := new(api.FetchResultResponse)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := conn.Invoke(ctx, "/master.Master/FetchResult", &api.FetchResultRequest{OperationID: opID}, resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

// submitAndWait submits req against method, then immediately fetches the
// result on the same connection -- the round trip the two-phase
// submit/fetch protocol normally splits across a request and a later
// FetchResult call, collapsed here since the CLI has nothing better to do
// while it waits.
func submitAndWait(cmd *cobra.Command, method string, req interface{}) error {
	conn, err := dial(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	submitResp := new(api.OperationIDResponse)
	ctx, cancel := callContext()
	defer cancel()
	if err := conn.Invoke(ctx, method, req, submitResp); err != nil {
		return err
	}
	if submitResp.Status.Code != api.CodeOK {
		return fmt.Errorf("submit failed: %s", submitResp.Status.Message)
	}

	fetchResp := new(api.FetchResultResponse)
	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer fetchCancel()
	if err := conn.Invoke(fetchCtx, "/master.Master/FetchResult",
		&api.FetchResultRequest{OperationID: submitResp.OperationID}, fetchResp); err != nil {
		return err
	}
	printJSON(fetchResp)
	return nil
}

// resourceManifest is the YAML shape "apply" accepts: one table or
// namespace resource per file, with a generic kind/metadata/spec envelope.
type resourceManifest struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec map[string]interface{} `yaml:"spec"`
}

var applyCmd = &cobra.Command{
	Use:   "apply -f FILE",
	Short: "Apply a table or namespace manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var manifest resourceManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}

		switch manifest.Kind {
		case "Table":
			schema, _ := manifest.Spec["schema"].(string)
			return submitAndWait(cmd, "/master.Master/CreateTable",
				&api.CreateTableRequest{TableName: manifest.Metadata.Name, Schema: schema})
		case "Namespace":
			return submitAndWait(cmd, "/master.Master/CreateNamespace",
				&api.CreateNamespaceRequest{Path: manifest.Metadata.Name})
		default:
			return fmt.Errorf("unsupported resource kind: %s", manifest.Kind)
		}
	},
}

func init() {
	createTableCmd.Flags().String("schema", "", "Table schema definition")
	dropTableCmd.Flags().Bool("if-exists", false, "Don't error if the table doesn't exist")
	moveRangeCmd.Flags().String("source", "", "Range server currently hosting the range")
	stopCmd.Flags().Bool("recover", false, "Start log-replay recovery for the removed server's ranges")
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}
