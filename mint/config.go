package mint

import (
	"fmt"
	"os"
	"strconv"
)

// MintMethodSettings bounds a single amount direction (mint or melt)
// for one method; zero means unbounded.
type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}

// FeeConfig configures the melt fee reserve formula:
// max(ReserveMinSat, ceil(amount_sat * ReservePercent / 100)).
type FeeConfig struct {
	ReservePercent float64
	ReserveMinSat  uint64
}

type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Motd            string
	ContactEmail    string
	ContactTwitter  string
	ContactNostr    string
}

type Config struct {
	PrivateKey string
	MintPath   string
	Limits     MintLimits
	Fee        FeeConfig
	MintInfo   MintInfo
	LogLevel   LogLevel
}

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

// defaultFeeReserveMinSat is 2000 msat expressed in the sat unit
// FeeConfig.ReserveMinSat is denominated in.
const defaultFeeReserveMinSat = 2

// GetConfig reads mint configuration from the environment, following
// the same env-var-per-field shape as the rest of this codebase's
// configuration surface.
func GetConfig() (*Config, error) {
	privateKey := os.Getenv("MINT_PRIVATE_KEY")
	if privateKey == "" {
		return nil, fmt.Errorf("MINT_PRIVATE_KEY cannot be empty")
	}

	mintPath := os.Getenv("MINT_DB_PATH")
	if mintPath == "" {
		homedir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		mintPath = homedir + "/.coinshelf-mint"
	}

	limits := MintLimits{}
	if v, ok := os.LookupEnv("MAX_BALANCE"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BALANCE: %v", err)
		}
		limits.MaxBalance = n
	}
	if v, ok := os.LookupEnv("MINTING_MAX_AMOUNT"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MINTING_MAX_AMOUNT: %v", err)
		}
		limits.MintingSettings.MaxAmount = n
	}
	if v, ok := os.LookupEnv("MELTING_MAX_AMOUNT"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MELTING_MAX_AMOUNT: %v", err)
		}
		limits.MeltingSettings.MaxAmount = n
	}

	fee := FeeConfig{ReservePercent: 1.0, ReserveMinSat: defaultFeeReserveMinSat}
	if v, ok := os.LookupEnv("FEE_RESERVE_PERCENT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FEE_RESERVE_PERCENT: %v", err)
		}
		fee.ReservePercent = f
	}
	if v, ok := os.LookupEnv("FEE_RESERVE_MIN_SAT"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FEE_RESERVE_MIN_SAT: %v", err)
		}
		fee.ReserveMinSat = n
	}

	logLevel := Info
	switch os.Getenv("LOG") {
	case "debug":
		logLevel = Debug
	case "disable":
		logLevel = Disable
	}

	return &Config{
		PrivateKey: privateKey,
		MintPath:   mintPath,
		Limits:     limits,
		Fee:        fee,
		MintInfo: MintInfo{
			Name:            os.Getenv("MINT_NAME"),
			Description:     os.Getenv("MINT_DESCRIPTION"),
			LongDescription: os.Getenv("MINT_DESCRIPTION_LONG"),
			Motd:            os.Getenv("MINT_MOTD"),
			ContactEmail:    os.Getenv("MINT_CONTACT_EMAIL"),
			ContactTwitter:  os.Getenv("MINT_CONTACT_TWITTER"),
			ContactNostr:    os.Getenv("MINT_CONTACT_NOSTR"),
		},
		LogLevel: logLevel,
	}, nil
}
