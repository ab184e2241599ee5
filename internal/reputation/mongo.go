package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"firestige.xyz/dgawatch/internal/core"
)

// MinMongoVersion is the lower, inclusive bound on the server versions the driver was
// tested against.
var MinMongoVersion = semver.Version{Major: 3, Minor: 0, Patch: 0}

// MaxMongoVersion is the upper, exclusive bound on the server versions the driver was
// tested against.
var MaxMongoVersion = semver.Version{Major: 4, Minor: 2, Patch: 0}

// MongoOptions locate the reputation collections.
type MongoOptions struct {
	URI        string
	Database   string
	Blacklist  string
	Whitelist  string
	Results    string
	MatchField string
	Timeout    time.Duration
}

// MongoStore is a Store backed by MongoDB. Each call works on its own copy of the root
// session so a stage never shares a socket with another.
type MongoStore struct {
	session *mgo.Session
	opts    MongoOptions
}

var bridgeLogger sync.Once

// DialMongo connects, pings the server and checks its version. Connection and ping
// failures match core.ErrStoreUnavailable.
func DialMongo(opts MongoOptions) (*MongoStore, error) {
	bridgeLogger.Do(func() {
		mgo.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	})

	info, err := mgo.ParseURL(opts.URI)
	if err != nil {
		return nil, fmt.Errorf("parse store uri: %w: %w", core.ErrConfigInvalid, err)
	}
	if opts.Timeout > 0 {
		info.Timeout = opts.Timeout
	}

	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", core.ErrStoreUnavailable, err)
	}
	if opts.Timeout > 0 {
		session.SetSocketTimeout(opts.Timeout)
		session.SetSyncTimeout(opts.Timeout)
	}

	s := &MongoStore{session: session, opts: opts}
	if err := s.Ping(); err != nil {
		session.Close()
		return nil, err
	}
	s.checkVersion()

	slog.Info("reputation store connected",
		"database", opts.Database,
		"blacklist", opts.Blacklist,
		"whitelist", opts.Whitelist,
		"results", opts.Results)
	return s, nil
}

// Ping runs the ping command against the admin database.
func (s *MongoStore) Ping() error {
	ssn := s.session.Copy()
	defer ssn.Close()

	var result bson.M
	if err := ssn.DB("admin").Run(bson.D{{Name: "ping", Value: 1}}, &result); err != nil {
		return fmt.Errorf("%w: ping: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// checkVersion warns when the server falls outside [MinMongoVersion, MaxMongoVersion).
func (s *MongoStore) checkVersion() {
	buildInfo, err := s.session.BuildInfo()
	if err != nil {
		slog.Warn("cannot read store version", "error", err)
		return
	}
	v, err := semver.ParseTolerant(buildInfo.Version)
	if err != nil {
		slog.Warn("cannot parse store version", "version", buildInfo.Version, "error", err)
		return
	}
	if !(v.GE(MinMongoVersion) && v.LT(MaxMongoVersion)) {
		slog.Warn("store version outside tested range",
			"version", v.String(),
			"min", MinMongoVersion.String(),
			"max_exclusive", MaxMongoVersion.String())
		return
	}
	slog.Debug("store version", "version", v.String())
}

func (s *MongoStore) collection(list List) string {
	if list == Whitelist {
		return s.opts.Whitelist
	}
	return s.opts.Blacklist
}

// Members queries the list collection with one $in filter on the match field.
func (s *MongoStore) Members(ctx context.Context, list List, names []string) (core.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := newMembership(names)
	if len(names) == 0 {
		return out, nil
	}

	ssn := s.session.Copy()
	defer ssn.Close()

	field := s.opts.MatchField
	iter := ssn.DB(s.opts.Database).C(s.collection(list)).
		Find(bson.M{field: bson.M{"$in": names}}).
		Select(bson.M{field: 1, "_id": 0}).
		Iter()

	var doc bson.M
	for iter.Next(&doc) {
		if name, ok := doc[field].(string); ok {
			if _, asked := out[name]; asked {
				out[name] = true
			}
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", core.ErrStoreUnavailable, list, err)
	}
	return out, nil
}

// Audit inserts records into the results collection in one round trip.
func (s *MongoStore) Audit(ctx context.Context, records []core.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ssn := s.session.Copy()
	defer ssn.Close()

	// A duplicate _id means an earlier attempt already wrote the record.
	results := ssn.DB(s.opts.Database).C(s.opts.Results)
	for _, rec := range records {
		if err := results.Insert(rec); err != nil && !mgo.IsDup(err) {
			return fmt.Errorf("%w: audit: %w", core.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Close closes the root session.
func (s *MongoStore) Close() error {
	s.session.Close()
	return nil
}
