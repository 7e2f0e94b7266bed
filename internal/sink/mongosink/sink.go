// Package mongosink is the durable Sink: a per-run timestamped Mongo
// collection fed by a batching writer goroutine, grounded on
// domain/chronicler's page-per-run and batch-flush pattern.
package mongosink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketdepth/orderbookd/internal/sink"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Database is the fixed database name documents are written under,
// mirroring chronicler.CollectionHistory.
const Database = "orderbookd"

const queueCapacity = 4096

// Sink writes every EmittedDocument into a collection named after the
// process's start time, batching inserts rather than round-tripping to
// Mongo on every heartbeat tick.
type Sink struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     zerolog.Logger

	docC chan bson.M

	mu      sync.Mutex
	pending []interface{}

	batchSize     int
	flushInterval time.Duration

	stopC chan struct{}
	doneC chan struct{}
}

// New opens (creating if absent) a collection named "<namePrefix>.<start
// timestamp>", indexes it by "t", and starts the background batch
// writer. batchSize <= 0 defaults to 100; flushInterval <= 0 defaults to
// 5s, bounding how long a document can sit unflushed when ticks are
// sparse.
func New(ctx context.Context, client *mongo.Client, namePrefix string, batchSize int, flushInterval time.Duration, logger zerolog.Logger) (*Sink, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	collectionName := fmt.Sprintf("%s.%s", namePrefix, time.Now().Format("20060102150405"))
	database := client.Database(Database)
	if err := createIndexedCollection(ctx, database, collectionName); err != nil {
		return nil, err
	}

	s := &Sink{
		client:        client,
		collection:    database.Collection(collectionName),
		logger:        logger,
		docC:          make(chan bson.M, queueCapacity),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopC:         make(chan struct{}),
		doneC:         make(chan struct{}),
	}
	go s.batchWriter()
	return s, nil
}

func createIndexedCollection(ctx context.Context, database *mongo.Database, name string) error {
	names, err := database.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return fmt.Errorf("mongosink: list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}
	if err := database.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("mongosink: create collection %s: %w", name, err)
	}
	collection := database.Collection(name)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"t": 1},
		Options: options.Index().SetName("t_index"),
	})
	if err != nil {
		return fmt.Errorf("mongosink: create index on t: %w", err)
	}
	return nil
}

// Insert implements sink.Sink. It never blocks on Mongo I/O: the document
// is marshaled to the wire JSON shape, converted to a bson.M, and handed
// to the batch writer over a bounded queue.
func (s *Sink) Insert(ctx context.Context, doc sink.Document) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("mongosink: marshal document: %w", err)
	}
	var asMap bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &asMap); err != nil {
		return fmt.Errorf("mongosink: convert to bson: %w", err)
	}

	select {
	case s.docC <- asMap:
		return nil
	default:
		return fmt.Errorf("mongosink: write queue full, dropping tick")
	}
}

func (s *Sink) batchWriter() {
	defer close(s.doneC)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case doc, ok := <-s.docC:
			if !ok {
				s.flush()
				return
			}
			s.mu.Lock()
			s.pending = append(s.pending, doc)
			full := len(s.pending) >= s.batchSize
			s.mu.Unlock()
			if full {
				s.flush()
			}
		case <-ticker.C:
			s.flush()
		case <-s.stopC:
			s.drainAndFlush()
			return
		}
	}
}

func (s *Sink) drainAndFlush() {
	for {
		select {
		case doc := <-s.docC:
			s.mu.Lock()
			s.pending = append(s.pending, doc)
			s.mu.Unlock()
		default:
			s.flush()
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if _, err := s.collection.InsertMany(context.Background(), batch); err != nil {
		s.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("mongosink: insert many failed")
	}
}

// Close stops the batch writer after flushing whatever remains queued.
func (s *Sink) Close() {
	close(s.stopC)
	<-s.doneC
}
