package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
)

const (
	fieldID           = "id"
	fieldName         = "name"
	fieldCreator      = "creator"
	fieldPassword     = "password"
	fieldPrivate      = "private"
	fieldMaxOccupancy = "max_occupancy"
	fieldOccupancy    = "occupancy"
	fieldCreatedAt    = "created_at"
	fieldState        = "state"
)

// redisRegistry stores one hash per room under <prefix>room:<id>,
// field per attribute so occupancy can be bumped with HINCRBY without
// rewriting the record. Searches scan the keyspace and filter in
// process; the index backend is deliberately not part of the contract.
type redisRegistry struct {
	rc        *redis.Client
	keyPrefix string
	scanCount int
}

// NewRedis builds a redis-backed registry. keyPrefix namespaces all
// keys; scanCount is the SCAN batch hint used by searches.
func NewRedis(rc *redis.Client, keyPrefix string, scanCount int) Registry {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &redisRegistry{rc: rc, keyPrefix: keyPrefix, scanCount: scanCount}
}

// NewRedisClient dials redis with the pool settings this service uses
// and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (p *redisRegistry) roomKey(id domain.RoomID) string {
	return fmt.Sprintf("%sroom:%s", p.keyPrefix, id)
}

func roomFields(room *domain.Room) map[string]any {
	return map[string]any{
		fieldID:           string(room.ID),
		fieldName:         room.Name,
		fieldCreator:      room.Creator,
		fieldPassword:     room.Password,
		fieldPrivate:      strconv.FormatBool(room.Private),
		fieldMaxOccupancy: room.MaxOccupancy,
		fieldOccupancy:    room.Occupancy,
		fieldCreatedAt:    room.CreatedAt,
		fieldState:        string(room.State),
	}
}

func parseRoom(fields map[string]string) (*domain.Room, error) {
	if len(fields) == 0 || fields[fieldID] == "" {
		return nil, domain.ErrRoomNotFound
	}
	private, _ := strconv.ParseBool(fields[fieldPrivate])
	maxOcc, err := strconv.Atoi(fields[fieldMaxOccupancy])
	if err != nil {
		return nil, fmt.Errorf("redis: bad max_occupancy %q: %w", fields[fieldMaxOccupancy], err)
	}
	occ, err := strconv.Atoi(fields[fieldOccupancy])
	if err != nil {
		return nil, fmt.Errorf("redis: bad occupancy %q: %w", fields[fieldOccupancy], err)
	}
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: bad created_at %q: %w", fields[fieldCreatedAt], err)
	}
	return &domain.Room{
		ID:           domain.RoomID(fields[fieldID]),
		Name:         fields[fieldName],
		Creator:      fields[fieldCreator],
		Password:     fields[fieldPassword],
		Private:      private,
		MaxOccupancy: maxOcc,
		Occupancy:    occ,
		CreatedAt:    createdAt,
		State:        domain.RoomState(fields[fieldState]),
	}, nil
}

func (p *redisRegistry) Create(ctx context.Context, room *domain.Room) error {
	all, err := p.scanRooms(ctx)
	if err != nil {
		return fmt.Errorf("could not check room name: %w", err)
	}
	if nameTaken(all, room.Name) {
		return domain.ErrDuplicateRoomName
	}
	if err := p.rc.HSet(ctx, p.roomKey(room.ID), roomFields(room)).Err(); err != nil {
		return fmt.Errorf("could not create room: %w", err)
	}
	return nil
}

func (p *redisRegistry) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	fields, err := p.rc.HGetAll(ctx, p.roomKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("could not get room %s: %w", id, err)
	}
	return parseRoom(fields)
}

func (p *redisRegistry) Update(ctx context.Context, room *domain.Room) error {
	key := p.roomKey(room.ID)
	// HSet on a missing key would resurrect a concurrently deleted
	// room as a fresh hash.
	exists, err := p.rc.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("could not check room %s: %w", room.ID, err)
	}
	if exists == 0 {
		return domain.ErrRoomNotFound
	}
	if err := p.rc.HSet(ctx, key, roomFields(room)).Err(); err != nil {
		return fmt.Errorf("could not update room %s: %w", room.ID, err)
	}
	return nil
}

func (p *redisRegistry) SetState(ctx context.Context, id domain.RoomID, state domain.RoomState) error {
	key := p.roomKey(id)
	exists, err := p.rc.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("could not check room %s: %w", id, err)
	}
	if exists == 0 {
		return domain.ErrRoomNotFound
	}
	if err := p.rc.HSet(ctx, key, fieldState, string(state)).Err(); err != nil {
		return fmt.Errorf("could not set state for room %s: %w", id, err)
	}
	return nil
}

func (p *redisRegistry) IncrOccupancy(ctx context.Context, id domain.RoomID, delta int) (int, error) {
	key := p.roomKey(id)
	exists, err := p.rc.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("could not check room %s: %w", id, err)
	}
	if exists == 0 {
		return 0, domain.ErrRoomNotFound
	}
	n, err := p.rc.HIncrBy(ctx, key, fieldOccupancy, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("could not change occupancy for room %s: %w", id, err)
	}
	if n < 0 {
		// Clamp: a duplicate leave must never drive occupancy negative.
		if err := p.rc.HSet(ctx, key, fieldOccupancy, 0).Err(); err != nil {
			return 0, fmt.Errorf("could not clamp occupancy for room %s: %w", id, err)
		}
		return 0, nil
	}
	return int(n), nil
}

func (p *redisRegistry) Search(ctx context.Context, q SearchQuery) ([]*domain.Room, error) {
	all, err := p.scanRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if matches(r, q) {
			out = append(out, r)
		}
	}
	return sortAndPage(out, q), nil
}

func (p *redisRegistry) Delete(ctx context.Context, id domain.RoomID) error {
	if err := p.rc.Del(ctx, p.roomKey(id)).Err(); err != nil {
		return fmt.Errorf("could not delete room %s: %w", id, err)
	}
	return nil
}

func (p *redisRegistry) scanRooms(ctx context.Context) ([]*domain.Room, error) {
	var (
		rooms  []*domain.Room
		cursor uint64
	)
	pattern := p.keyPrefix + "room:*"
	for {
		keys, next, err := p.rc.Scan(ctx, cursor, pattern, int64(p.scanCount)).Result()
		if err != nil {
			return nil, fmt.Errorf("could not scan rooms: %w", err)
		}
		for _, key := range keys {
			fields, err := p.rc.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("could not read room at %s: %w", key, err)
			}
			room, err := parseRoom(fields)
			if err != nil {
				// A concurrently deleted or malformed record is not
				// worth failing the whole scan over.
				log.Warn().Err(err).Str("module", "registry").Str("key", key).Msg("skipping unreadable room record")
				continue
			}
			rooms = append(rooms, room)
		}
		cursor = next
		if cursor == 0 {
			return rooms, nil
		}
	}
}
