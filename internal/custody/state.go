package custody

import (
	"encoding/json"
	"os"
	"time"
)

// State is the persisted balance sheet: account -> asset -> amount.
type State struct {
	Balances  map[string]map[string]uint64 `json:"balances"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

func (s *State) cloneBalances() map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64, len(s.Balances))
	for account, assets := range s.Balances {
		inner := make(map[string]uint64, len(assets))
		for asset, amount := range assets {
			inner[asset] = amount
		}
		out[account] = inner
	}
	return out
}

// LoadState reads the ledger state from a JSON file. Returns an empty state if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Balances: map[string]map[string]uint64{}}, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Balances == nil {
		state.Balances = map[string]map[string]uint64{}
	}
	return &state, nil
}

// SaveState writes the ledger state to a JSON file. The file is replaced by rename so a
// failed write never leaves a truncated state behind.
func SaveState(filePath string, state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
