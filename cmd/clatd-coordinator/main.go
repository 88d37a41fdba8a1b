package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/464xlat/clatd-coordinator/coordinator"
	"github.com/464xlat/clatd-coordinator/internal/bpfmap"
	"github.com/464xlat/clatd-coordinator/internal/logging"
	"github.com/464xlat/clatd-coordinator/internal/platform"
	"github.com/464xlat/clatd-coordinator/internal/platform/netd"
	"github.com/464xlat/clatd-coordinator/internal/rpc"
	"github.com/464xlat/clatd-coordinator/internal/xcmd"
)

// version is stamped at build time via -ldflags; it defaults to "dev" for
// local builds.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "clatd-coordinator",
	Short: "Control-plane coordinator for a 464XLAT CLAT instance",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the configured CLAT instance and run until interrupted",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runMain(configPath)
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Attach to a running coordinator's control surface and print its state",
	RunE: func(_ *cobra.Command, _ []string) error {
		return dumpMain(configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version",
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Println(version)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, dumpCmd} {
		c.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (required)")
		c.MarkFlagRequired("config")
	}
	rootCmd.AddCommand(runCmd, dumpCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func runMain(configPath string) error {
	cfg, err := coordinator.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer log.Sync()

	netdClient, err := netd.Dial(cfg.NetdEndpoint, log)
	if err != nil {
		return fmt.Errorf("dialing netd at %s: %w", cfg.NetdEndpoint, err)
	}
	defer netdClient.Close()

	deps := platform.NewLinux(netdClient, log)

	ingress6, err := bpfmap.OpenIngress6Map(cfg.BPF.Ingress6Map)
	if err != nil {
		return fmt.Errorf("opening ingress6 map: %w", err)
	}
	egress4, err := bpfmap.OpenEgress4Map(cfg.BPF.Egress4Map)
	if err != nil {
		return fmt.Errorf("opening egress4 map: %w", err)
	}
	cookieTag, err := bpfmap.OpenCookieTagMap(cfg.BPF.CookieTagMap)
	if err != nil {
		return fmt.Errorf("opening cookie-tag map: %w", err)
	}
	if cookieTag == nil {
		return fmt.Errorf("cookie-tag map at %s is required but not present", cfg.BPF.CookieTagMap)
	}

	var (
		ingress6Table bpfmap.Ingress6Table
		egress4Table  bpfmap.Egress4Table
	)
	if ingress6 != nil {
		ingress6Table = ingress6
	}
	if egress4 != nil {
		egress4Table = egress4
	}

	coord := coordinator.NewCoordinator(
		deps, ingress6Table, egress4Table, cookieTag,
		cfg.BPF.Egress4Prog, cfg.BPF.Ingress6ProgEth, cfg.BPF.Ingress6ProgRaw,
		coordinator.WithLog(log),
	)

	ctx := context.Background()

	v6, err := coord.Start(ctx, cfg.UplinkIface, cfg.NetID, cfg.NAT64Prefix)
	if err != nil {
		return fmt.Errorf("starting clat on %s: %w", cfg.UplinkIface, err)
	}
	log.Infow("clat started", "v6", v6, "iface", cfg.UplinkIface)

	wg, ctx := errgroup.WithContext(ctx)

	listener, err := newRPCListener(cfg.RPC.Endpoint)
	if err != nil {
		return fmt.Errorf("starting control surface listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	rpc.NewServer(coord, log).Register(grpcServer)

	wg.Go(func() error {
		return grpcServer.Serve(listener)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infow("caught signal", "error", err)
		grpcServer.GracefulStop()
		return err
	})

	waitErr := wg.Wait()
	grpcServer.GracefulStop()

	if err := coord.Stop(context.Background()); err != nil {
		log.Errorw("failed to stop clat cleanly", "error", err)
	}

	var interrupted xcmd.Interrupted
	if errors.As(waitErr, &interrupted) {
		return nil
	}
	return waitErr
}

func newRPCListener(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", endpoint, err)
	}
	return listener, nil
}

func dumpMain(configPath string) error {
	cfg, err := coordinator.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := grpc.NewClient(
		cfg.RPC.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(netd.JSONCodecName)),
	)
	if err != nil {
		return fmt.Errorf("dialing control surface at %s: %w", cfg.RPC.Endpoint, err)
	}
	defer conn.Close()

	client := rpc.NewClient(conn)
	text, err := client.Dump(context.Background())
	if err != nil {
		return fmt.Errorf("dumping state: %w", err)
	}

	fmt.Print(text)
	return nil
}
