package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/native/memory"
	"github.com/marmos91/dittosmb/pkg/native/smbclient"
	"github.com/marmos91/dittosmb/pkg/share"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// MemoryNativeConfig configures the in-memory native client.
type MemoryNativeConfig struct {
	// Shares are created empty at startup, e.g. smb://localhost/public
	Shares []string `mapstructure:"shares" validate:"dive,startswith=smb://"`
}

// decode decodes a type-specific option map into out and validates it.
// Duration strings such as "10s" are accepted.
func decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// CreateNativeClient creates the native SMB client selected by cfg.Type.
//
// Supported types:
//   - "memory": an in-process tree, seeded with the configured shares
//   - "smb2": a network client built on go-smb2
func CreateNativeClient(cfg *NativeConfig) (native.Client, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryNativeClient(cfg.Memory)
	case "smb2":
		return createSMBNativeClient(cfg.SMB2)
	default:
		return nil, fmt.Errorf("unknown native client type: %q", cfg.Type)
	}
}

func createMemoryNativeClient(options map[string]any) (native.Client, error) {
	var memCfg MemoryNativeConfig
	if err := decode(options, &memCfg); err != nil {
		return nil, fmt.Errorf("invalid memory native config: %w", err)
	}

	client := memory.New()
	for _, uri := range memCfg.Shares {
		id, err := smburi.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid memory share %q: %w", uri, err)
		}
		if !id.IsShare() {
			return nil, fmt.Errorf("memory share %q is not a share", uri)
		}
		client.AddShare(id.Host(), id.ShareName(), native.KindFileShare, "")
	}
	logger.Info("Memory native client initialized with %d shares", len(memCfg.Shares))
	return client, nil
}

func createSMBNativeClient(options map[string]any) (native.Client, error) {
	var smbCfg smbclient.Config
	if err := decode(options, &smbCfg); err != nil {
		return nil, fmt.Errorf("invalid smb2 native config: %w", err)
	}

	client := smbclient.New(smbCfg)
	logger.Info("SMB native client initialized: port=%d, dial_timeout=%s", smbCfg.Port, smbCfg.DialTimeout)
	return client, nil
}

// CreateShareStore creates the share record store selected by cfg.Type.
//
// Supported types:
//   - "memory": records are lost on exit
//   - "badger": records persist in a BadgerDB directory
func CreateShareStore(ctx context.Context, cfg *StoreConfig) (share.Store, error) {
	switch cfg.Type {
	case "memory":
		return share.NewMemoryStore(), nil
	case "badger":
		return createBadgerShareStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown share store type: %q", cfg.Type)
	}
}

func createBadgerShareStore(ctx context.Context, options map[string]any) (share.Store, error) {
	var badgerCfg share.BadgerStoreConfig
	if err := decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := share.NewBadgerStore(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}
