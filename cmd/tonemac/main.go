/*
NAME
  tonemac

DESCRIPTION
  tonemac is the acoustic MAC link's node process: it prompts for the
  node's id, opens an ALSA device and the outbound message buffer, and
  drives the mac state machine until interrupted.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// tonemac is the node process for the acoustic MAC link.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/ausocean/utils/logging"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/tonemac/audio"
	"github.com/ausocean/tonemac/config"
	"github.com/ausocean/tonemac/mac"
	"github.com/ausocean/tonemac/outbound"
)

// Logging configuration.
const (
	logPath      = "/var/log/tonemac/tonemac.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = false
)

func main() {
	devPtr := flag.String("device", "default", "ALSA device name")
	bufferPtr := flag.String("buffer", ".buffer", "path to the outbound message buffer file")
	recordPtr := flag.String("record", "", "if set, mirror every transmitted sample to this .wav file for offline diagnosis with tonescope")
	nodePtr := flag.Int("node", 0, "node id (1-3); if unset, tonemac prompts on stdin")
	numNodesPtr := flag.Int("nodes", 3, "number of nodes in the network (2 or 3)")
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stdout), logSuppress)

	node, err := resolveNodeId(*nodePtr, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatal("could not resolve node id", "error", err)
	}

	cfg := config.New(log)
	cfg.NumNodes = *numNodesPtr
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	var dev audio.Device = audio.NewALSA(log, cfg.SampleRate, *devPtr)
	if *recordPtr != "" {
		rd, err := audio.NewRecordingDevice(dev, cfg.SampleRate, *recordPtr)
		if err != nil {
			log.Fatal("could not open recording device", "error", err)
		}
		dev = rd
	}

	queue, err := outbound.New(cfg, *bufferPtr)
	if err != nil {
		log.Fatal("could not open outbound buffer", "error", err)
	}
	defer queue.Close()

	m := mac.New(cfg, node, dev, queue)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("signal received, shutting down")
		cancel()
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warning("sd_notify failed", "error", err)
	} else if sent {
		log.Debug("notified systemd readiness")
	}

	log.Info("starting mac loop", "node", node.String())
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("mac loop exited with error", "error", err)
	}
}

// resolveNodeId returns the node id for want if want is non-zero (an
// error if it is not 1, 2 or 3), otherwise prompts on r/w for one.
func resolveNodeId(want int, r io.Reader, w io.Writer) (config.NodeId, error) {
	if want != 0 {
		return nodeFromInt(want)
	}
	fmt.Fprint(w, "node id (1-3): ")
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("no input")
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("invalid node id: %w", err)
	}
	return nodeFromInt(n)
}

func nodeFromInt(n int) (config.NodeId, error) {
	switch n {
	case 1:
		return config.Node1, nil
	case 2:
		return config.Node2, nil
	case 3:
		return config.Node3, nil
	default:
		return 0, fmt.Errorf("node id must be 1, 2 or 3, got %d", n)
	}
}
