// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Command snarkosnode runs a single validator/client node: it parses the
// flags below into an internal/node.Config, starts the node, and blocks
// until SIGINT/SIGTERM, mirroring cmd/gprobe's flag-to-Config-to-Start
// wiring.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/log"
	"github.com/AleoNet/snarkOS-sub002/internal/node"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// tomlSettings matches field names verbatim between the TOML file and
// fileConfig, the same normalization cmd/gprobe uses for its own config
// file.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// fileConfig is the subset of flags a --config TOML file may set; flags
// explicitly passed on the command line still take precedence over it.
type fileConfig struct {
	Listen        string
	Type          string
	Nonce         uint64
	GenesisHeight uint64
	GenesisWeight string
	Store         string
	TrustedPeers  []string
	Seeds         []string
	Verbosity     string
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	f, err := os.Open(path)
	if err != nil {
		return fc, err
	}
	defer f.Close()
	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&fc)
	return fc, err
}

var (
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "TCP address to accept inbound peer connections on",
		Value: "0.0.0.0:4133",
	}
	nodeTypeFlag = cli.StringFlag{
		Name:  "type",
		Usage: "node role: validator, prover, client, sync, beacon",
		Value: "client",
	}
	nonceFlag = cli.Uint64Flag{
		Name:  "nonce",
		Usage: "handshake nonce identifying this process; 0 generates one from the process id",
	}
	genesisHeightFlag = cli.Uint64Flag{
		Name:  "genesis.height",
		Usage: "genesis block height",
	}
	genesisWeightFlag = cli.StringFlag{
		Name:  "genesis.weight",
		Usage: "genesis cumulative weight, as a decimal integer",
		Value: "0",
	}
	storeFlag = cli.StringFlag{
		Name:  "store",
		Usage: "path to the on-disk block store; empty uses an in-memory store",
	}
	trustedPeersFlag = cli.StringFlag{
		Name:  "trusted-peers",
		Usage: "comma-separated list of always-reconnected peer addresses",
	}
	seedsFlag = cli.StringFlag{
		Name:  "seeds",
		Usage: "comma-separated list of bootstrap peer addresses to dial first",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level: trace, debug, info, warn, error",
		Value: "info",
	}
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file; flags passed explicitly override its values",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "snarkosnode"
	app.Usage = "run a DAG-BFT validator/client node"
	app.Flags = []cli.Flag{
		listenFlag,
		nodeTypeFlag,
		nonceFlag,
		genesisHeightFlag,
		genesisWeightFlag,
		storeFlag,
		trustedPeersFlag,
		seedsFlag,
		verbosityFlag,
		configFileFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	fc := fileConfig{
		Listen:        listenFlag.Value,
		Type:          nodeTypeFlag.Value,
		GenesisWeight: genesisWeightFlag.Value,
		Verbosity:     verbosityFlag.Value,
	}
	if path := ctx.String(configFileFlag.Name); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return fmt.Errorf("loading config file %s: %w", path, err)
		}
		fc = loaded
	}
	overrideFileConfig(ctx, &fc)

	if err := applyVerbosity(fc.Verbosity); err != nil {
		return err
	}

	nodeType, err := parseNodeType(fc.Type)
	if err != nil {
		return err
	}

	weight, ok := new(big.Int).SetString(fc.GenesisWeight, 10)
	if !ok {
		return fmt.Errorf("invalid genesis.weight %q", fc.GenesisWeight)
	}

	nonce := fc.Nonce
	if nonce == 0 {
		nonce = uint64(os.Getpid())
	}

	cfg := node.Config{
		ListenAddr: fc.Listen,
		NodeType:   nodeType,
		Nonce:      nonce,
		Genesis: types.BlockHeader{
			Height:           uint32(fc.GenesisHeight),
			CumulativeWeight: weight,
		},
		StorePath:    fc.Store,
		Committee:    &committee.Static{Committee: &committee.Committee{Round: 0}},
		TrustedPeers: fc.TrustedPeers,
		DialSeeds:    fc.Seeds,
	}

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := n.Start(runCtx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	log.Info("node started", "listen", cfg.ListenAddr, "type", nodeType, "nonce", nonce)

	<-runCtx.Done()
	log.Info("shutting down")
	n.Stop()
	return nil
}

// overrideFileConfig applies every flag the user actually passed on the
// command line over the values loaded from --config, so the file supplies
// defaults and the command line still wins.
func overrideFileConfig(ctx *cli.Context, fc *fileConfig) {
	if ctx.IsSet(listenFlag.Name) {
		fc.Listen = ctx.String(listenFlag.Name)
	}
	if ctx.IsSet(nodeTypeFlag.Name) {
		fc.Type = ctx.String(nodeTypeFlag.Name)
	}
	if ctx.IsSet(nonceFlag.Name) {
		fc.Nonce = ctx.Uint64(nonceFlag.Name)
	}
	if ctx.IsSet(genesisHeightFlag.Name) {
		fc.GenesisHeight = ctx.Uint64(genesisHeightFlag.Name)
	}
	if ctx.IsSet(genesisWeightFlag.Name) {
		fc.GenesisWeight = ctx.String(genesisWeightFlag.Name)
	}
	if ctx.IsSet(storeFlag.Name) {
		fc.Store = ctx.String(storeFlag.Name)
	}
	if ctx.IsSet(trustedPeersFlag.Name) {
		fc.TrustedPeers = splitAddrs(ctx.String(trustedPeersFlag.Name))
	}
	if ctx.IsSet(seedsFlag.Name) {
		fc.Seeds = splitAddrs(ctx.String(seedsFlag.Name))
	}
	if ctx.IsSet(verbosityFlag.Name) {
		fc.Verbosity = ctx.String(verbosityFlag.Name)
	}
}

func parseNodeType(s string) (types.NodeType, error) {
	switch strings.ToLower(s) {
	case "validator":
		return types.NodeTypeValidator, nil
	case "prover":
		return types.NodeTypeProver, nil
	case "client":
		return types.NodeTypeClient, nil
	case "sync":
		return types.NodeTypeSync, nil
	case "beacon":
		return types.NodeTypeBeacon, nil
	default:
		return 0, fmt.Errorf("unknown node type %q", s)
	}
}

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyVerbosity(s string) error {
	var lv log.Level
	switch strings.ToLower(s) {
	case "trace":
		lv = log.LevelTrace
	case "debug":
		lv = log.LevelDebug
	case "info":
		lv = log.LevelInfo
	case "warn", "warning":
		lv = log.LevelWarn
	case "error":
		lv = log.LevelError
	default:
		return fmt.Errorf("unknown verbosity %q", s)
	}
	log.Root.SetLevel(lv)
	return nil
}
