// Command audioclient streams a PCM WAV file, or generated silence, to the
// audio ingest in real time.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcapi "virtual-avatar-service/internal/api/grpc"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 16kHz 16-bit mono is 32000 bytes/second, so 100ms chunks are 3200 bytes.
const (
	expectedSampleRate = 16000
	chunkSize          = 3200
	chunkInterval      = 100 * time.Millisecond
)

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (16kHz 16-bit mono); empty sends silence")
	silence := flag.Duration("silence", 3*time.Second, "Length of generated silence when no file is given")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall stream timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var src io.Reader
	if *audioFile != "" {
		f, err := os.Open(*audioFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open audio file")
		}
		defer f.Close()
		if err := readWAVHeader(f); err != nil {
			log.Fatal().Err(err).Msg("Invalid WAV file")
		}
		src = f
	} else {
		n := int64(*silence/chunkInterval) * chunkSize
		src = io.LimitReader(zeroReader{}, n)
		log.Info().Dur("duration", *silence).Msg("Streaming generated silence")
	}

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := stream(ctx, grpcapi.NewAudioIngressClient(conn), src); err != nil {
		log.Fatal().Err(err).Msg("Streaming failed")
	}
}

func stream(ctx context.Context, client grpcapi.AudioIngressClient, src io.Reader) error {
	s, err := client.StreamAudio(ctx)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	buf := make([]byte, chunkSize)
	var totalBytes int64
	var chunks int
	start := time.Now()

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if serr := s.Send(wrapperspb.Bytes(buf[:n])); serr != nil {
				// The server's status arrives with CloseAndRecv.
				_, rerr := s.CloseAndRecv()
				return fmt.Errorf("send frame %d: %w", chunks+1, errors.Join(serr, rerr))
			}
			chunks++
			totalBytes += int64(n)
			if chunks%10 == 0 {
				log.Info().Int("chunks", chunks).Int64("bytes", totalBytes).Msg("Streaming")
			}
			time.Sleep(chunkInterval)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
	}

	if _, err := s.CloseAndRecv(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	log.Info().
		Int("chunks", chunks).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(start).Round(time.Millisecond)).
		Msg("Stream completed")
	return nil
}

func readWAVHeader(r io.Reader) error {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return errors.New("not a RIFF/WAVE file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file")

	if audioFormat != 1 { // PCM
		return errors.New("only PCM format supported")
	}
	if sampleRate != expectedSampleRate {
		log.Warn().Uint32("sampleRate", sampleRate).Msgf("Expected %d Hz", expectedSampleRate)
	}
	return nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
