// Package graph stores the record log as version nodes in Memgraph.
package graph

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/driver"
	"github.com/agenthands/metastore/internal/engine"
)

var safeIdent = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

type Engine struct {
	d driver.GraphDriver
}

// New wraps a connected driver and builds the base indices.
func New(ctx context.Context, d driver.GraphDriver) (*Engine, error) {
	if err := d.BuildIndices(ctx); err != nil {
		return nil, err
	}
	return &Engine{d: d}, nil
}

func (e *Engine) Name() string { return "memgraph" }

func (e *Engine) Ping(ctx context.Context) error { return e.d.VerifyConnectivity(ctx) }

func (e *Engine) Close() error { return e.d.Close(context.Background()) }

func (e *Engine) EnsureIndex(ctx context.Context, spec engine.IndexSpec) error {
	if spec.Classification != "" {
		return e.d.CreateIndex(ctx, "Record", "classifications")
	}
	if !safeIdent.MatchString(spec.Property) {
		return fmt.Errorf("graph: cannot index property %q", spec.Property)
	}
	return e.d.CreateIndex(ctx, "Record", query.PropertyKey(spec.Property))
}

func (e *Engine) Apply(ctx context.Context, muts []engine.Mutation) (engine.Commit, error) {
	if err := engine.CheckBatch(muts); err != nil {
		return engine.Commit{}, err
	}
	var commit engine.Commit
	err := e.d.ExecuteWrite(ctx, func(tx driver.Runner) error {
		res, err := tx.ExecuteQuery(ctx, driver.AdvanceClockQuery, nil)
		if err != nil {
			return err
		}
		if len(res.Records) == 0 {
			return fmt.Errorf("clock node missing")
		}
		seq, _, err := neo4j.GetRecordValue[int64](res.Records[0], "seq")
		if err != nil {
			return err
		}
		lastMS, _, err := neo4j.GetRecordValue[int64](res.Records[0], "last_ms")
		if err != nil {
			return err
		}
		commit = engine.Commit{Seq: seq, RecordedAt: engine.Now(time.UnixMilli(lastMS).UTC())}
		if _, err := tx.ExecuteQuery(ctx, driver.SetClockTimeQuery, map[string]interface{}{"last_ms": commit.RecordedAt.UnixMilli()}); err != nil {
			return err
		}

		for _, m := range muts {
			key := map[string]interface{}{"grp": string(m.Group), "guid": m.GUID}
			res, err := tx.ExecuteQuery(ctx, driver.HeadSeqQuery, key)
			if err != nil {
				return err
			}
			var head int64
			if len(res.Records) > 0 {
				head, _, err = neo4j.GetRecordValue[int64](res.Records[0], "seq")
				if err != nil {
					return err
				}
			}
			if head != m.Head {
				return fmt.Errorf("%w: %s %s at %d, expected %d", engine.ErrConflict, m.Group, m.GUID, head, m.Head)
			}
			if !m.HasPayload() {
				continue
			}
			if _, err := tx.ExecuteQuery(ctx, driver.SupersedeQuery, map[string]interface{}{"grp": string(m.Group), "guid": m.GUID, "seq": commit.Seq}); err != nil {
				return err
			}
			props, err := nodeProperties(engine.Stamp(m, commit))
			if err != nil {
				return err
			}
			if _, err := tx.ExecuteQuery(ctx, driver.CreateRecordQuery, map[string]interface{}{"props": props}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return engine.Commit{}, fmt.Errorf("failed to apply batch: %w", err)
	}
	return commit, nil
}

// nodeProperties flattens a record into node properties: header columns,
// the JSON body, and each instance property with its primitive type.
func nodeProperties(rec *engine.Record) (map[string]interface{}, error) {
	body, err := engine.EncodeBody(rec)
	if err != nil {
		return nil, err
	}
	h := rec.Header()
	classifications := engine.LiveClassifications(rec)
	if classifications == nil {
		classifications = []string{}
	}
	props := map[string]interface{}{
		"grp":             string(rec.Group()),
		"guid":            h.GUID,
		"seq":             rec.Seq,
		"version":         h.Version,
		"type_name":       h.TypeName,
		"status":          string(h.Status),
		"recorded_at":     rec.RecordedAt.UnixMilli(),
		"classifications": classifications,
		"body":            string(body),
	}
	var instanceProps model.InstanceProperties
	if rec.Relationship != nil {
		props["end1_guid"] = rec.Relationship.End1.GUID
		props["end2_guid"] = rec.Relationship.End2.GUID
		instanceProps = rec.Relationship.Properties
	} else {
		props["is_proxy"] = rec.Entity.IsProxy
		instanceProps = rec.Entity.Properties
	}
	for name, v := range instanceProps {
		props[query.PropertyKey(name)] = v.Raw()
		props[query.PropertyTypeKey(name)] = string(v.Type)
	}
	return props, nil
}

func (e *Engine) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	res, err := e.d.ExecuteQuery(ctx, driver.ReadClockQuery, nil)
	if err != nil {
		return nil, err
	}
	var seq int64
	if len(res.Records) > 0 {
		if seq, _, err = neo4j.GetRecordValue[int64](res.Records[0], "seq"); err != nil {
			return nil, err
		}
	}
	return &snapshot{e: e, seq: seq}, nil
}

type snapshot struct {
	e   *Engine
	seq int64
}

func (s *snapshot) Seq() int64 { return s.seq }

func (s *snapshot) query(ctx context.Context, group query.Group, q string, params map[string]interface{}) ([]*engine.Record, error) {
	params["watermark"] = s.seq
	res, err := s.e.d.ExecuteQuery(ctx, q, params)
	if err != nil {
		return nil, err
	}
	out := make([]*engine.Record, 0, len(res.Records))
	for _, r := range res.Records {
		seq, _, err := neo4j.GetRecordValue[int64](r, "seq")
		if err != nil {
			return nil, err
		}
		ms, _, err := neo4j.GetRecordValue[int64](r, "recorded_at")
		if err != nil {
			return nil, err
		}
		body, _, err := neo4j.GetRecordValue[string](r, "body")
		if err != nil {
			return nil, err
		}
		rec, err := engine.DecodeBody(group, seq, time.UnixMilli(ms).UTC(), []byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *snapshot) Head(ctx context.Context, group query.Group, guid string) (*engine.Record, error) {
	recs, err := s.query(ctx, group, driver.GetHeadQuery, map[string]interface{}{"grp": string(group), "guid": guid})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (s *snapshot) History(ctx context.Context, group query.Group, guid string) ([]*engine.Record, error) {
	return s.query(ctx, group, driver.GetHistoryQuery, map[string]interface{}{"grp": string(group), "guid": guid})
}

func (s *snapshot) Scan(ctx context.Context, plan *query.Plan) ([]*engine.Record, error) {
	pd := query.NodeWhere(plan, "n")
	params := map[string]interface{}{"grp": string(plan.Group)}
	for i, arg := range pd.Args {
		params[fmt.Sprintf("f%d", i)] = arg
	}
	return s.query(ctx, plan.Group, fmt.Sprintf(driver.ScanQueryFormat, pd.Where), params)
}

func (s *snapshot) RelationshipsFor(ctx context.Context, guid string) ([]*engine.Record, error) {
	return s.query(ctx, query.Relationships, driver.GetRelationshipsForEntityQuery, map[string]interface{}{"guid": guid})
}
