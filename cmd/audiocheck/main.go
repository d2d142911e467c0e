// audiocheck: hardware smoke test for the fin device.
// Captures a few seconds from the mic and reports frame levels, then
// plays a test tone through the speaker.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splashworks/go-fin/internal/log"
	"github.com/splashworks/go-fin/pkg/audioio"
)

var (
	device  = flag.String("device", "", "Capture device name substring")
	speaker = flag.String("speaker", "", "Playback device name substring")
	seconds = flag.Int("seconds", 3, "Capture duration in seconds")
	tone    = flag.Bool("tone", true, "Play a test tone after capture")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	fmt.Println("🎤 audiocheck")
	fmt.Println()

	src, err := audioio.NewSource(audioio.Config{
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
		Device:        *device,
	}, logger)
	if err != nil {
		fmt.Printf("❌ mic setup failed: %v\n", err)
		os.Exit(1)
	}

	if err := src.Start(ctx); err != nil {
		fmt.Printf("❌ mic start failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Capturing %ds from %q...\n", *seconds, src.Name())

	var (
		frames int
		peak   float64
		sum    float64
	)
	deadline := time.After(time.Duration(*seconds) * time.Second)

capture:
	for {
		select {
		case <-ctx.Done():
			break capture
		case <-deadline:
			break capture
		case chunk, ok := <-src.Stream():
			if !ok {
				break capture
			}
			rms := audioio.RMS(chunk.Samples)
			frames++
			sum += rms
			if rms > peak {
				peak = rms
			}
		}
	}

	src.Stop()
	src.Close()

	if frames == 0 {
		fmt.Println("❌ no frames captured")
		os.Exit(1)
	}
	avg := sum / float64(frames)
	fmt.Printf("✅ %d frames, avg RMS %.0f, peak RMS %.0f\n", frames, avg, peak)
	if peak < 50 {
		fmt.Println("⚠️  captured audio is near silent; check the mic")
	}

	if !*tone || ctx.Err() != nil {
		return
	}

	sink, err := audioio.NewSink(audioio.Config{
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
		Device:        *speaker,
	}, logger)
	if err != nil {
		fmt.Printf("❌ speaker setup failed: %v\n", err)
		os.Exit(1)
	}
	if err := sink.Start(ctx); err != nil {
		fmt.Printf("❌ speaker start failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Playing test tone...")
	if err := sink.Write(ctx, toneChunk(440, 24000, time.Second)); err != nil {
		fmt.Printf("❌ tone playback failed: %v\n", err)
		os.Exit(1)
	}
	sink.Flush(ctx)
	sink.Stop()
	sink.Close()
	fmt.Println("✅ done")
}

// toneChunk synthesizes a mono sine tone.
func toneChunk(freq float64, rate int, dur time.Duration) audioio.Chunk {
	n := int(float64(rate) * dur.Seconds())
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return audioio.Chunk{Samples: samples, SampleRate: rate, Channels: 1}
}
