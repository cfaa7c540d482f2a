package risk

import (
	"github.com/ethereum/go-ethereum/common"
)

// CorePoolID is the reserved identifier of the default pool. The core pool
// pre-exists, cannot be deactivated, and pool-management operations never
// mutate its market list directly.
const CorePoolID uint64 = 0

// CorePoolLabel names the pre-created default pool.
const CorePoolLabel = "core"

// engineState is the persistence boundary for the engine's keyed stores.
// Lookups return (nil, nil) when the key is absent. The iteration methods
// exist for the unlisting purge pass and the query surface; both return
// addresses in first-seen order so results stay deterministic.
type engineState interface {
	GetMarket(addr common.Address) (*Market, error)
	PutMarket(market *Market) error
	MarketAddresses() ([]common.Address, error)

	GetPool(id uint64) (*Pool, error)
	PutPool(pool *Pool) error
	NextPoolID() (uint64, error)
	PoolIDs() ([]uint64, error)

	GetPoolMarket(poolID uint64, market common.Address) (*PoolMarket, error)
	PutPoolMarket(poolID uint64, market common.Address, pm *PoolMarket) error
	DeletePoolMarket(poolID uint64, market common.Address) error

	GetPosition(addr common.Address) (*AccountPosition, error)
	PutPosition(position *AccountPosition) error
	PositionAddresses() ([]common.Address, error)
}

type poolMarketKey struct {
	poolID uint64
	market common.Address
}

// MemoryState is the in-process engineState used by the daemon and by tests.
// It pre-creates the core pool and hands out sequential pool identifiers
// starting at 1.
type MemoryState struct {
	markets       map[common.Address]*Market
	marketOrder   []common.Address
	pools         map[uint64]*Pool
	poolOrder     []uint64
	nextPoolID    uint64
	poolMarkets   map[poolMarketKey]*PoolMarket
	positions     map[common.Address]*AccountPosition
	positionOrder []common.Address
}

// NewMemoryState constructs an empty state with the core pool pre-created.
func NewMemoryState() *MemoryState {
	s := &MemoryState{
		markets:     make(map[common.Address]*Market),
		pools:       make(map[uint64]*Pool),
		nextPoolID:  CorePoolID + 1,
		poolMarkets: make(map[poolMarketKey]*PoolMarket),
		positions:   make(map[common.Address]*AccountPosition),
	}
	core := &Pool{ID: CorePoolID, Label: CorePoolLabel, Active: true}
	s.pools[CorePoolID] = core
	s.poolOrder = append(s.poolOrder, CorePoolID)
	return s
}

func (s *MemoryState) GetMarket(addr common.Address) (*Market, error) {
	return s.markets[addr], nil
}

func (s *MemoryState) PutMarket(market *Market) error {
	if market == nil {
		return nil
	}
	if _, ok := s.markets[market.Address]; !ok {
		s.marketOrder = append(s.marketOrder, market.Address)
	}
	s.markets[market.Address] = market
	return nil
}

func (s *MemoryState) MarketAddresses() ([]common.Address, error) {
	out := make([]common.Address, len(s.marketOrder))
	copy(out, s.marketOrder)
	return out, nil
}

func (s *MemoryState) GetPool(id uint64) (*Pool, error) {
	return s.pools[id], nil
}

func (s *MemoryState) PutPool(pool *Pool) error {
	if pool == nil {
		return nil
	}
	if _, ok := s.pools[pool.ID]; !ok {
		s.poolOrder = append(s.poolOrder, pool.ID)
	}
	s.pools[pool.ID] = pool
	return nil
}

func (s *MemoryState) NextPoolID() (uint64, error) {
	id := s.nextPoolID
	s.nextPoolID++
	return id, nil
}

func (s *MemoryState) PoolIDs() ([]uint64, error) {
	out := make([]uint64, len(s.poolOrder))
	copy(out, s.poolOrder)
	return out, nil
}

func (s *MemoryState) GetPoolMarket(poolID uint64, market common.Address) (*PoolMarket, error) {
	return s.poolMarkets[poolMarketKey{poolID: poolID, market: market}], nil
}

func (s *MemoryState) PutPoolMarket(poolID uint64, market common.Address, pm *PoolMarket) error {
	if pm == nil {
		return nil
	}
	s.poolMarkets[poolMarketKey{poolID: poolID, market: market}] = pm
	return nil
}

func (s *MemoryState) DeletePoolMarket(poolID uint64, market common.Address) error {
	delete(s.poolMarkets, poolMarketKey{poolID: poolID, market: market})
	return nil
}

func (s *MemoryState) GetPosition(addr common.Address) (*AccountPosition, error) {
	return s.positions[addr], nil
}

func (s *MemoryState) PutPosition(position *AccountPosition) error {
	if position == nil {
		return nil
	}
	if _, ok := s.positions[position.Address]; !ok {
		s.positionOrder = append(s.positionOrder, position.Address)
	}
	s.positions[position.Address] = position
	return nil
}

func (s *MemoryState) PositionAddresses() ([]common.Address, error) {
	out := make([]common.Address, len(s.positionOrder))
	copy(out, s.positionOrder)
	return out, nil
}
