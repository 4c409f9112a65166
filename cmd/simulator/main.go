// Command simulator publishes synthetic drone telemetry for local testing,
// either to the MQTT broker the server ingests from or straight to the
// HTTP ingestion endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
)

var (
	simMode   string
	simBroker string
	simServer string
	simTopic  string
	simDevice string
	simRate   float64
	simCount  int
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Publish synthetic drone telemetry",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&simMode, "mode", "http", "publish mode: http or mqtt")
	rootCmd.Flags().StringVar(&simBroker, "broker", "tcp://localhost:1883", "mqtt broker URL")
	rootCmd.Flags().StringVar(&simServer, "server", "http://localhost:9000", "server base URL for http mode")
	rootCmd.Flags().StringVar(&simTopic, "topic", "cropion/telemetry", "mqtt topic")
	rootCmd.Flags().StringVar(&simDevice, "device", "sim-drone-1", "device identifier")
	rootCmd.Flags().Float64Var(&simRate, "rate", 1, "messages per second")
	rootCmd.Flags().IntVar(&simCount, "count", 0, "stop after this many messages (0 for unlimited)")
}

func run(cmd *cobra.Command, args []string) error {
	publish, closeFn, err := publisher()
	if err != nil {
		return err
	}
	defer closeFn()

	// Random walk around a field site with a slowly draining battery.
	battery := 100.0
	lat, lon := 28.6139, 77.2090
	altitude := 0.0

	interval := time.Duration(float64(time.Second) / simRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for range ticker.C {
		battery -= rand.Float64() * 0.3
		if battery < 0 {
			battery = 0
		}
		lat += (rand.Float64() - 0.5) * 1e-4
		lon += (rand.Float64() - 0.5) * 1e-4
		altitude += (rand.Float64() - 0.5) * 4
		if altitude < 0 {
			altitude = 0
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"device_id":   simDevice,
			"timestamp":   float64(time.Now().UnixNano()) / float64(time.Second),
			"battery":     battery,
			"lat":         lat,
			"lon":         lon,
			"temperature": 28 + rand.Float64()*6,
			"altitude":    altitude,
			"speed":       rand.Float64() * 12,
		})
		if err := publish(payload); err != nil {
			fmt.Fprintln(os.Stderr, "publish failed:", err)
		} else {
			sent++
		}
		if simCount > 0 && sent >= simCount {
			break
		}
	}

	fmt.Printf("published %d messages\n", sent)
	return nil
}

func publisher() (func([]byte) error, func(), error) {
	switch simMode {
	case "mqtt":
		opts := mqtt.NewClientOptions().AddBroker(simBroker).SetClientID("cropion-sim-" + simDevice)
		client := mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
		}
		return func(payload []byte) error {
				t := client.Publish(simTopic, 1, false, payload)
				t.Wait()
				return t.Error()
			}, func() {
				client.Disconnect(250)
			}, nil
	case "http":
		httpClient := &http.Client{Timeout: 10 * time.Second}
		url := simServer + "/telemetry"
		return func(payload []byte) error {
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}
			return nil
		}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown mode %q (want http or mqtt)", simMode)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
