// Command mockbarrage runs a local barrage server and room metadata API so
// giftrec can be exercised without a live room.
//
//	go run ./tools/mockbarrage -addr 127.0.0.1:8601 -http 127.0.0.1:8080
//
// Point danmaku.addr and metadata.base_url (http://127.0.0.1:8080/api/RoomApi/room)
// at it and run giftrec with --no-capture.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/danmaku/mockserver"
	"github.com/SkynetNext/gift-recorder/internal/protocol"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8601", "Barrage listen address")
	httpAddr   = flag.String("http", "127.0.0.1:8080", "Metadata API listen address (empty to disable)")
	roomID     = flag.String("room", "288016", "Numeric room id reported by the metadata API")
	rate       = flag.Float64("rate", 2.0, "Gift frames per second per connection")
	rewardRate = flag.Float64("reward-ratio", 0.1, "Fraction of frames that are tiered rewards")
	noiseRatio = flag.Float64("noise-ratio", 0.3, "Fraction of frames that are chat messages")
	offline    = flag.Bool("offline", false, "Report the room as offline")
)

type mockGift struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Price string `json:"pc"`
}

var gifts = []mockGift{
	{ID: 101, Name: "Rocket", Type: "2", Price: "500"},
	{ID: 102, Name: "Plane", Type: "2", Price: "100"},
	{ID: 103, Name: "Fish ball", Type: "1", Price: "100"},
	{ID: 104, Name: "Glow stick", Type: "1", Price: "200"},
}

var nicknames = []string{"alice", "bob", "carol", "dave", "eve"}

func main() {
	flag.Parse()

	if *rate <= 0 {
		fmt.Fprintln(os.Stderr, "rate must be greater than 0")
		os.Exit(2)
	}

	srv := &mockserver.Server{
		Interval: time.Duration(float64(time.Second) / *rate),
		Generate: func(int) protocol.Record { return randomFrame() },
	}
	if err := srv.Start(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", *addr, err)
		os.Exit(1)
	}

	fmt.Printf("=== Mock Barrage Server ===\n")
	fmt.Printf("Barrage: %s\n", srv.Addr())
	fmt.Printf("Room: %s (offline: %v)\n", *roomID, *offline)
	fmt.Printf("Rate: %.2f frames/s per connection\n", *rate)

	var api *http.Server
	if *httpAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/RoomApi/room/", roomHandler)
		api = &http.Server{Addr: *httpAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metadata API: %v\n", err)
			}
		}()
		fmt.Printf("Metadata API: http://%s/api/RoomApi/room\n", *httpAddr)
	}
	fmt.Printf("\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if api != nil {
		api.Close()
	}
	srv.Close()

	received := srv.Received()
	fmt.Printf("\n=== Summary ===\n")
	fmt.Printf("Client frames: %d\n", len(received))
	fmt.Printf("Heartbeats: %d\n", srv.CountType("mrkl"))
}

// randomFrame returns a gift, a tiered reward or a chat message
func randomFrame() protocol.Record {
	nick := nicknames[rand.Intn(len(nicknames))]
	p := rand.Float64()
	switch {
	case p < *noiseRatio:
		return protocol.NewRecord("type", "chatmsg", "nn", nick, "txt", "hello/@world")
	case p < *noiseRatio+*rewardRate:
		sui := protocol.MarshalSST(protocol.NewRecord("id", strconv.Itoa(rand.Intn(100000)), "nick", nick))
		return protocol.NewRecord(
			"type", "bc_buy_deserve",
			"lev", strconv.Itoa(1+rand.Intn(3)),
			"cnt", strconv.Itoa(1+rand.Intn(3)),
			"sui", string(sui),
		)
	default:
		g := gifts[rand.Intn(len(gifts))]
		return protocol.NewRecord(
			"type", "dgb",
			"gfid", strconv.Itoa(g.ID),
			"gfcnt", strconv.Itoa(1+rand.Intn(5)),
			"nn", nick,
		)
	}
}

func roomHandler(w http.ResponseWriter, _ *http.Request) {
	status := "1"
	if *offline {
		status = "2"
	}
	resp := map[string]interface{}{
		"error": 0,
		"data": map[string]interface{}{
			"room_id":     *roomID,
			"room_name":   "Mock room",
			"owner_name":  "mock",
			"room_status": status,
			"gift":        gifts,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
