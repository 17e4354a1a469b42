package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the simulator configuration
type Config struct {
	// Machine topology
	Machine struct {
		Harts      int    `toml:"harts"`
		MainFrames uint32 `toml:"main_frames"` // main memory size in 4 KiB frames
		EntryPoint string `toml:"entry_point"`
		StackTop   string `toml:"stack_top"` // initial sp for hart 0; later harts stack down
		StackSize  uint32 `toml:"stack_size"`
	} `toml:"machine"`

	// Enabled instruction-set extensions
	ISA struct {
		M        bool `toml:"m"`
		A        bool `toml:"a"`
		Zicsr    bool `toml:"zicsr"`
		Zifencei bool `toml:"zifencei"`
	} `toml:"isa"`

	// Execution settings
	Execution struct {
		MaxSteps uint64 `toml:"max_steps"`
	} `toml:"execution"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Machine defaults: 1 MiB of main memory, a single hart entering at 0
	cfg.Machine.Harts = 1
	cfg.Machine.MainFrames = 256
	cfg.Machine.EntryPoint = "0x0"
	cfg.Machine.StackTop = "0x100000"
	cfg.Machine.StackSize = 65536 // 64KB per hart

	// Every extension on by default
	cfg.ISA.M = true
	cfg.ISA.A = true
	cfg.ISA.Zicsr = true
	cfg.ISA.Zifencei = true

	cfg.Execution.MaxSteps = 1000000

	return cfg
}

// Validate checks the configuration for values the machine cannot be built
// from.
func (c *Config) Validate() error {
	if c.Machine.Harts < 1 {
		return fmt.Errorf("machine must have at least one hart, got %d", c.Machine.Harts)
	}
	if c.Machine.MainFrames < 1 {
		return fmt.Errorf("main memory must have at least one frame, got %d", c.Machine.MainFrames)
	}
	if c.Machine.MainFrames > 0x80000 {
		return fmt.Errorf("main memory of %d frames exceeds the low address space", c.Machine.MainFrames)
	}
	if _, err := c.EntryPoint(); err != nil {
		return err
	}
	stackTop, err := c.StackTop()
	if err != nil {
		return err
	}
	need := uint64(c.Machine.StackSize) * uint64(c.Machine.Harts)
	if need > uint64(stackTop) {
		return fmt.Errorf("stacks of %d harts x %d bytes do not fit below 0x%08X", c.Machine.Harts, c.Machine.StackSize, stackTop)
	}
	if c.Execution.MaxSteps == 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	return nil
}

// EntryPoint parses the configured entry point address.
func (c *Config) EntryPoint() (uint32, error) {
	return parseAddress("entry_point", c.Machine.EntryPoint)
}

// StackTop parses the configured initial stack top address.
func (c *Config) StackTop() (uint32, error) {
	return parseAddress("stack_top", c.Machine.StackTop)
}

func parseAddress(field, s string) (uint32, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
			return 0, fmt.Errorf("%s %q is not a valid address", field, s)
		}
	}
	if v > 0xFFFFFFFF {
		return 0, fmt.Errorf("%s %q does not fit in 32 bits", field, s)
	}
	return uint32(v), nil
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\riscv-emu\config.toml
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "riscv-emu")

	case "darwin", "linux":
		// macOS/Linux: ~/.config/riscv-emu/config.toml
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to current directory
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "riscv-emu")

	default:
		// Unknown platform: use current directory
		return "config.toml"
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0750); err != nil {
		// If we can't create the directory, fall back to current directory
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read and parse config file
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file
func (c *Config) SaveTo(path string) (err error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	// Encode to TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
