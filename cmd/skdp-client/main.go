// Command skdp-client runs the device side of the protocol: it dials a
// server, completes the KEX initiator role (C4), then reads lines from
// stdin and sends each as a record-layer message (C6) until EOF, at which
// point it sends Terminate. Structure follows this repo's chatserver
// command's dependency-then-run shape, scaled down to a single connection.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/kex"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/record"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

var (
	serverAddr string
	devicePath string
)

func main() {
	root := &cobra.Command{
		Use:   "skdp-client",
		Short: "Connect to an SKDP server and exchange record-layer messages",
		RunE:  runConnect,
	}
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:14480", "server address")
	root.Flags().StringVar(&devicePath, "device-key", "", "path to the .dkey file identifying this device")
	_ = root.MarkFlagRequired("device-key")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	buf, err := os.ReadFile(devicePath)
	if err != nil {
		return fmt.Errorf("read device key: %w", err)
	}

	var lastErr error
	var device *keys.DeviceKey
	var params profile.Params
	for _, candidate := range []profile.Params{profile.AES256GCM(), profile.RCS256(), profile.RCS512()} {
		device, lastErr = keys.DecodeDevice(buf, candidate)
		if lastErr == nil {
			params = candidate
			break
		}
	}
	if lastErr != nil {
		return fmt.Errorf("decode device key: %w", lastErr)
	}

	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.Close()

	sock := transport.NewTCP(conn)
	sess := session.New(params)
	client := &kex.Client{Device: device, Sock: sock, Sess: sess}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Printf("skdp-client: session established with %s, suite %s", serverAddr, params.Suite)

	channel := &record.Channel{Sock: sock, Sess: sess}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := channel.Send(sendCtx, line)
		sendCancel()
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	return channel.Close(closeCtx, skdperr.None)
}
