package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// PositionSource reads the open-position snapshot the indexer keeps in a
// Redis hash: one field per loan id, each value a JSON position.
type PositionSource struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

// NewPositionSource creates a PositionSource over the hash at key.
func NewPositionSource(c *Client, key string, logger *slog.Logger) *PositionSource {
	if key == "" {
		key = "positions:open"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionSource{
		rdb:    c.Underlying(),
		key:    key,
		logger: logger.With(slog.String("component", "position_source")),
	}
}

// OpenPositions walks the hash with HSCAN, batchSize fields per round trip,
// and returns every decodable position. Malformed entries are logged and
// skipped so one bad write cannot stall the rollover engine.
func (s *PositionSource) OpenPositions(ctx context.Context, batchSize int) ([]domain.Position, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var (
		cursor    uint64
		positions []domain.Position
		seen      = make(map[common.Hash]struct{})
	)
	for {
		kv, next, err := s.rdb.HScan(ctx, s.key, cursor, "", int64(batchSize)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan %s: %w", s.key, err)
		}
		for i := 0; i+1 < len(kv); i += 2 {
			pos, err := decodePosition(kv[i], []byte(kv[i+1]))
			if err != nil {
				s.logger.WarnContext(ctx, "skipping malformed position",
					slog.String("field", kv[i]),
					slog.String("error", err.Error()),
				)
				continue
			}
			// HSCAN may return a field more than once while the hash is rehashing
			if _, dup := seen[pos.LoanID]; dup {
				continue
			}
			seen[pos.LoanID] = struct{}{}
			positions = append(positions, pos)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return positions, nil
}

// positionRecord is the indexer's JSON layout. Amounts arrive as decimal
// strings or bare numbers.
type positionRecord struct {
	LoanID          string     `json:"loanId"`
	Borrower        string     `json:"borrower"`
	LoanToken       string     `json:"loanToken"`
	CollateralToken string     `json:"collateralToken"`
	Principal       amount     `json:"principal"`
	Collateral      amount     `json:"collateral"`
	EndTimestamp    flexibleTS `json:"endTimestamp"`
}

func decodePosition(field string, data []byte) (domain.Position, error) {
	var rec positionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Position{}, err
	}
	if rec.LoanID == "" {
		rec.LoanID = field
	}
	if len(common.FromHex(rec.LoanID)) == 0 {
		return domain.Position{}, fmt.Errorf("%w: empty loan id", domain.ErrInvalidPosition)
	}
	if !common.IsHexAddress(rec.CollateralToken) {
		return domain.Position{}, fmt.Errorf("%w: collateral token %q", domain.ErrInvalidPosition, rec.CollateralToken)
	}
	if rec.EndTimestamp == 0 {
		return domain.Position{}, fmt.Errorf("%w: missing endTimestamp", domain.ErrInvalidPosition)
	}
	return domain.Position{
		LoanID:          common.HexToHash(rec.LoanID),
		Borrower:        common.HexToAddress(rec.Borrower),
		LoanToken:       common.HexToAddress(rec.LoanToken),
		CollateralToken: common.HexToAddress(rec.CollateralToken),
		Principal:       rec.Principal.Int(),
		Collateral:      rec.Collateral.Int(),
		EndTimestamp:    int64(rec.EndTimestamp),
	}, nil
}

type amount struct{ v *big.Int }

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		a.v = new(big.Int)
		return nil
	}
	v, ok := new(big.Int).SetString(string(b), 0)
	if !ok {
		return fmt.Errorf("invalid amount %q", b)
	}
	a.v = v
	return nil
}

func (a amount) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

type flexibleTS int64

func (t *flexibleTS) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid endTimestamp %q", b)
	}
	*t = flexibleTS(n)
	return nil
}

var _ domain.PositionSource = (*PositionSource)(nil)
