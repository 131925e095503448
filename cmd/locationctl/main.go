// Command locationctl is a command-line client for locationd.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/internal/nbi"
	"github.com/signalsfoundry/location-coordinator/internal/nbi/types"
	"github.com/signalsfoundry/location-coordinator/model"
)

type globalOpts struct {
	addr      string
	timeout   time.Duration
	requestID string
}

type requestOpts struct {
	handle         int32
	locType        string
	token          string
	assistModule   int32
	accuracyMm     int32
	desiredTimeout int32
}

func addHandleFlag(fs *pflag.FlagSet, h *int32) {
	fs.Int32VarP(h, "handle", "m", -1, "Module handle")
}

func addRequestFlags(fs *pflag.FlagSet, o *requestOpts) {
	addHandleFlag(fs, &o.handle)
	fs.StringVarP(&o.locType, "type", "t", "none", "Location type: none, gnss, cloud-cell-locate, cloud-google, cloud-skyhook, cloud-here")
	fs.StringVar(&o.token, "token", "", "Authentication token for cloud location types")
	fs.Int32Var(&o.assistModule, "assist-module", -1, "Wifi module handle assisting a Cell Locate fix")
	fs.Int32Var(&o.accuracyMm, "accuracy-mm", -1, "Desired accuracy in millimetres")
	fs.Int32Var(&o.desiredTimeout, "desired-timeout-s", -1, "Advisory timeout hint in seconds")
}

func (o requestOpts) payload(fs *pflag.FlagSet) (*structpb.Struct, error) {
	t, err := model.ParseLocationType(o.locType)
	if err != nil {
		return nil, err
	}
	req := core.Request{Handle: model.ModuleHandle(o.handle), Type: t, AuthToken: o.token}
	if fs.Changed("assist-module") || fs.Changed("accuracy-mm") || fs.Changed("desired-timeout-s") {
		req.Assist = &model.Assist{
			DesiredAccuracyMillimetres: o.accuracyMm,
			DesiredTimeoutSeconds:      o.desiredTimeout,
			AssistModule:               model.ModuleHandle(o.assistModule),
		}
	}
	return types.RequestToStruct(req), nil
}

func handlePayload(h int32) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		types.FieldHandle: structpb.NewNumberValue(float64(h)),
	}}
}

// invoke dials addr, calls method and prints the response as JSON.
func invoke(ctx context.Context, g *globalOpts, out io.Writer, method string, in *structpb.Struct) error {
	conn, err := grpc.NewClient(g.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", g.addr, err)
	}
	defer conn.Close()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	reqID := g.requestID
	if reqID == "" {
		reqID = logging.NewID()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", reqID)

	resp, err := nbi.NewLocationClient(conn).Call(ctx, method, in)
	if err != nil {
		return err
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "locationctl",
		Short:         "Client for the locationd gRPC service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", "127.0.0.1:50061", "locationd gRPC address")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 5*time.Minute, "RPC deadline")
	root.PersistentFlags().StringVar(&g.requestID, "request-id", "", "Request ID sent as x-request-id (generated when empty)")

	root.AddCommand(
		newGetCmd(g),
		newStartCmd(g),
		newHandleCmd(g, "status", "Show a module's location status", nbi.MethodGetStatus),
		newHandleCmd(g, "stop", "Stop an async acquisition", nbi.MethodStopLocation),
		newHandleCmd(g, "last", "Show the last async fix for a module", nbi.MethodGetLastLocation),
		newModulesCmd(g),
	)
	return root
}

func newGetCmd(g *globalOpts) *cobra.Command {
	var (
		o              requestOpts
		timeoutSeconds int32
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Acquire a fix and wait for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := o.payload(cmd.Flags())
			if err != nil {
				return err
			}
			if timeoutSeconds > 0 {
				in.Fields[types.FieldTimeoutSeconds] = structpb.NewNumberValue(float64(timeoutSeconds))
			}
			return invoke(cmd.Context(), g, cmd.OutOrStdout(), nbi.MethodGetLocation, in)
		},
	}
	addRequestFlags(cmd.Flags(), &o)
	cmd.Flags().Int32Var(&timeoutSeconds, "timeout-seconds", 0, "Server-side acquisition limit in seconds")
	_ = cmd.MarkFlagRequired("handle")
	return cmd
}

func newStartCmd(g *globalOpts) *cobra.Command {
	var o requestOpts
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an async acquisition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := o.payload(cmd.Flags())
			if err != nil {
				return err
			}
			return invoke(cmd.Context(), g, cmd.OutOrStdout(), nbi.MethodStartLocation, in)
		},
	}
	addRequestFlags(cmd.Flags(), &o)
	_ = cmd.MarkFlagRequired("handle")
	return cmd
}

func newHandleCmd(g *globalOpts, use, short, method string) *cobra.Command {
	var h int32
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cmd.Context(), g, cmd.OutOrStdout(), method, handlePayload(h))
		},
	}
	addHandleFlag(cmd.Flags(), &h)
	_ = cmd.MarkFlagRequired("handle")
	return cmd
}

func newModulesCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the module catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cmd.Context(), g, cmd.OutOrStdout(), nbi.MethodListModules, nil)
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "locationctl:", err)
		os.Exit(1)
	}
}
