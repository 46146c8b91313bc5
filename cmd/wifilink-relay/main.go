// Wifilink-relay: the wired end of a wifilink uplink.
//
// It accepts uplink sessions from a bridge (WebSocket on /ws, WebRTC
// signaling on /signal, and optionally raw TCP) and bridges their frames into
// a TAP device, or echoes them back with -echo for testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/wifilink/internal/config"
	"github.com/1ureka/wifilink/internal/netdev"
	"github.com/1ureka/wifilink/internal/relay"
	"github.com/1ureka/wifilink/internal/transport"
	"github.com/1ureka/wifilink/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := flag.String("listen", ":7000", "HTTP address for /ws and /signal")
	tcpListen := flag.String("tcp", "", "Address for raw TCP sessions (disabled when empty)")
	tapName := flag.String("tap", "wifilink0", "TAP device name")
	mtu := flag.Int("mtu", relay.TAPMTU, "TAP device MTU")
	echo := flag.Bool("echo", false, "Echo frames back instead of using a TAP device")
	stun := flag.String("stun", strings.Join(config.DefaultSTUNServers, ","), "STUN servers for WebRTC sessions")
	statsInterval := flag.Duration("stats", 10*time.Second, "Traffic report interval (0 disables)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Wifilink relay — v%s", version))
	pterm.Println()

	var dev *netdev.Device
	var frameDev relay.FrameDevice
	if !*echo {
		var err error
		dev, err = netdev.OpenTAP(*tapName, *mtu)
		if err != nil {
			util.LogError("failed to open TAP device: %v", err)
			os.Exit(1)
		}
		defer dev.Close()
		frameDev = dev
		util.LogInfo("TAP device %s up (mtu %d)", dev.Name(), *mtu)
	}

	r, err := relay.New(frameDev, relay.Options{
		Echo:   *echo,
		WebRTC: transport.PeerConfig{STUNServers: splitList(*stun)},
	})
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *tcpListen != "" {
		ln, err := net.Listen("tcp", *tcpListen)
		if err != nil {
			util.LogError("failed to listen on %s: %v", *tcpListen, err)
			os.Exit(1)
		}
		util.LogInfo("accepting tcp sessions on %s", ln.Addr())
		go func() {
			if err := r.ServeTCP(ctx, ln); err != nil {
				util.LogError("tcp listener: %v", err)
			}
		}()
	}

	go func() {
		if err := r.RunDevice(ctx); err != nil {
			util.LogError("%v", err)
			stop()
		}
	}()

	go reportStats(ctx, r.Stats(), *statsInterval)

	srv := &http.Server{Addr: *listen, Handler: r.Handler(ctx)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if dev != nil {
			dev.Close()
		}
	}()

	util.LogSuccess("relay listening on %s (/ws, /signal)", *listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.LogError("http server: %v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}

// reportStats logs relay counters every interval while they change.
func reportStats(ctx context.Context, st *relay.Stats, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastIn, lastOut int64
	for {
		select {
		case <-ticker.C:
			in, out := st.FramesIn.Load(), st.FramesOut.Load()
			if in != lastIn || out != lastOut {
				util.LogInfo("frames in: %d | out: %d | dropped: %d | sessions: %d",
					in, out, st.Dropped.Load(), st.Sessions.Load())
			}
			lastIn, lastOut = in, out
		case <-ctx.Done():
			return
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
