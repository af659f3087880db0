// simulate — synthetic charger for local development.
// Run: go run ./scripts/simulate --broker localhost:1883 --device laptop
//
// Publishes telemetry for one simulated charging session, then flips the
// connected flag off so the intake closes the session. Timestamps can run
// faster than wall time via --speedup, so a 90-minute session replays in
// seconds while still producing a realistic power curve.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type sample struct {
	Watts       *float64   `json:"watts,omitempty"`
	Connected   *bool      `json:"connected,omitempty"`
	ChargerName string     `json:"charger_name,omitempty"`
	At          *time.Time `json:"at,omitempty"`
}

// archetype shapes a session: peak draw early, a taper, then near-idle.
type archetype struct {
	StartWatts float64
	EndWatts   float64
	IdleWatts  float64
	// TaperAt is where the charge curve bends from the linear ramp into
	// the idle tail.
	TaperAt time.Duration
	Length  time.Duration
}

var archetypes = map[string]archetype{
	"laptop":  {StartWatts: 60, EndWatts: 38, IdleWatts: 2.0, TaperAt: 70 * time.Minute, Length: 85 * time.Minute},
	"phone":   {StartWatts: 20, EndWatts: 6, IdleWatts: 0.5, TaperAt: 45 * time.Minute, Length: 60 * time.Minute},
	"scooter": {StartWatts: 115, EndWatts: 90, IdleWatts: 3.0, TaperAt: 3 * time.Hour, Length: 200 * time.Minute},
	"lamp":    {StartWatts: 6, EndWatts: 6, IdleWatts: 6, TaperAt: 8 * time.Hour, Length: 8 * time.Hour},
}

func (a archetype) wattsAt(elapsed time.Duration, rng *rand.Rand) float64 {
	if elapsed >= a.TaperAt {
		return a.IdleWatts + rng.Float64()*0.4
	}
	frac := float64(elapsed) / float64(a.TaperAt)
	base := a.StartWatts + (a.EndWatts-a.StartWatts)*frac
	return base + (rng.Float64()-0.5)*base*0.05
}

func main() {
	broker := flag.String("broker", "localhost:1883", "MQTT broker host:port")
	prefix := flag.String("prefix", "ampprint", "Topic prefix the intake subscribes under")
	charger := flag.String("charger", "sim-1", "Charger id used in the topic")
	name := flag.String("name", "Garage Plug", "Charger display name")
	device := flag.String("device", "laptop", "Device archetype: laptop, phone, scooter, lamp")
	interval := flag.Duration("interval", time.Minute, "Simulated time between samples")
	speedup := flag.Float64("speedup", 60, "Simulated seconds per wall second")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for jitter")
	flag.Parse()

	arch, ok := archetypes[*device]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown device %q, want one of: laptop, phone, scooter, lamp\n", *device)
		os.Exit(1)
	}

	addr := *broker
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}
	opts := mqtt.NewClientOptions().
		AddBroker(addr).
		SetClientID(fmt.Sprintf("ampprint-sim-%s", *charger)).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Fprintf(os.Stderr, "connecting to %s: %v\n", addr, token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("%s/%s/telemetry", *prefix, *charger)
	rng := rand.New(rand.NewSource(*seed))
	wallTick := time.Duration(float64(*interval) / *speedup)
	if wallTick <= 0 {
		wallTick = time.Millisecond
	}

	start := time.Now().UTC().Add(-arch.Length)
	fmt.Printf("Simulating %q on %s (%s of telemetry, %v per sample)\n", *device, topic, arch.Length, *interval)

	samples := 0
	for elapsed := time.Duration(0); elapsed <= arch.Length; elapsed += *interval {
		at := start.Add(elapsed)
		w := arch.wattsAt(elapsed, rng)
		publish(client, topic, sample{Watts: &w, ChargerName: *name, At: &at})
		samples++
		time.Sleep(wallTick)
	}

	disconnected := false
	at := start.Add(arch.Length)
	publish(client, topic, sample{Connected: &disconnected, ChargerName: *name, At: &at})
	fmt.Printf("Published %d samples, then the disconnect flag\n", samples)
}

func publish(client mqtt.Client, topic string, s sample) {
	payload, err := json.Marshal(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding sample: %v\n", err)
		return
	}
	if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		fmt.Fprintf(os.Stderr, "publishing: %v\n", token.Error())
	}
}
