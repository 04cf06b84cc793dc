// Package mongostore is the MongoDB implementation of queue.Store and
// ingest.StateStore.
package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shortsgen/candidate"
	"shortsgen/errors"
	"shortsgen/queue"
)

const (
	CandidatesCollection = "candidates"
	StateCollection      = "ingest_state"

	duplicateKeyCode = 11000
)

// document is the stored shape of a candidate.
type document struct {
	ID            string                 `bson:"_id"`
	Kind          string                 `bson:"kind"`
	Source        string                 `bson:"source"`
	Language      string                 `bson:"language"`
	Title         string                 `bson:"title,omitempty"`
	Text          string                 `bson:"text"`
	EditedText    string                 `bson:"editedText,omitempty"`
	URL           string                 `bson:"url,omitempty"`
	ExternalID    string                 `bson:"externalId,omitempty"`
	Category      string                 `bson:"category,omitempty"`
	ImageURL      string                 `bson:"imageUrl,omitempty"`
	RatingPercent *float64               `bson:"ratingPercent,omitempty"`
	Meta          map[string]interface{} `bson:"meta,omitempty"`
	RawKey        string                 `bson:"rawKey,omitempty"`
	DedupKey      string                 `bson:"dedupKey"`
	Status        string                 `bson:"status,omitempty"`
	Notes         string                 `bson:"notes,omitempty"`
	CreatedAt     time.Time              `bson:"createdAt"`
	ReservedAt    *time.Time             `bson:"reservedAt,omitempty"`
	UsedAt        *time.Time             `bson:"usedAt,omitempty"`
	DeletedAt     *time.Time             `bson:"deletedAt,omitempty"`
	PublishedAt   *time.Time             `bson:"publishedAt,omitempty"`
	VideoURL      string                 `bson:"youtubeVideoUrl,omitempty"`
	VideoID       string                 `bson:"youtubeVideoId,omitempty"`
}

func toDocument(r queue.Record) document {
	c := r.Candidate
	return document{
		ID: c.ID, Kind: string(c.Kind), Source: c.Source, Language: c.Language,
		Title: c.Title, Text: c.Text, URL: c.URL, ExternalID: c.ExternalID,
		Category: c.Category, ImageURL: c.ImageURL, RatingPercent: c.RatingPercent,
		Meta: c.Meta, RawKey: c.RawKey, DedupKey: r.DedupKey, Status: string(c.Status),
		Notes: c.Notes, CreatedAt: c.CreatedAt, DeletedAt: c.DeletedAt,
	}
}

func (d *document) candidate() *candidate.Candidate {
	return &candidate.Candidate{
		ID: d.ID, Kind: candidate.Kind(d.Kind), Source: d.Source, Language: d.Language,
		Title: d.Title, Text: d.Text, EditedText: d.EditedText, URL: d.URL,
		ExternalID: d.ExternalID, Category: d.Category, ImageURL: d.ImageURL,
		RatingPercent: d.RatingPercent, Meta: d.Meta, RawKey: d.RawKey,
		Status: candidate.ParseStatus(d.Status), Notes: d.Notes,
		CreatedAt: d.CreatedAt.UTC(), ReservedAt: utc(d.ReservedAt), UsedAt: utc(d.UsedAt),
		DeletedAt: utc(d.DeletedAt), PublishedAt: utc(d.PublishedAt),
		VideoURL: d.VideoURL, VideoID: d.VideoID,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

type Store struct {
	candidates *mongo.Collection
	state      *mongo.Collection
}

func New(database *mongo.Database) *Store {
	return &Store{
		candidates: database.Collection(CandidatesCollection),
		state:      database.Collection(StateCollection),
	}
}

// Connect dials uri, verifies the connection and ensures indexes. The
// returned close function disconnects the client.
func Connect(ctx context.Context, uri, database string) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.StoreError(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, nil, errors.StoreError(err, "ping mongodb")
	}
	s := New(client.Database(database))
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, nil, err
	}
	return s, client.Disconnect, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.candidates.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "source", Value: 1}, {Key: "dedupKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_kind_source_dedup"),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "language", Value: 1}, {Key: "kind", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return errors.StoreError(err, "create candidate indexes")
	}
	_, err = s.state.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source", Value: 1}, {Key: "sourceKey", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.StoreError(err, "create ingest state index")
}

// statusFilter matches any of statuses. $in with null also matches
// documents that have no status field, which read back as pending.
func statusFilter(statuses []candidate.Status) bson.M {
	vals := bson.A{}
	for _, st := range statuses {
		vals = append(vals, string(st))
		if st == candidate.StatusPending {
			vals = append(vals, nil)
		}
	}
	return bson.M{"$in": vals}
}

func pendingFilter() bson.M {
	return statusFilter([]candidate.Status{candidate.StatusPending})
}

func listFilter(f candidate.ListFilter) bson.M {
	filter := bson.M{}
	if f.Kind != "" {
		filter["kind"] = string(f.Kind)
	}
	if f.Language != "" {
		filter["language"] = f.Language
	}
	if len(f.Statuses) > 0 {
		filter["status"] = statusFilter(f.Statuses)
	}
	return filter
}

// statusPipeline is the update pipeline for a transition to st. Pipelines
// let "used" fill reservedAt only when it is still empty.
func statusPipeline(st candidate.Status, now time.Time, extra bson.D) mongo.Pipeline {
	set := bson.D{{Key: "status", Value: string(st)}}
	var unset bson.A
	switch st {
	case candidate.StatusUsed:
		set = append(set,
			bson.E{Key: "usedAt", Value: now},
			bson.E{Key: "reservedAt", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$reservedAt", now}}}},
		)
	case candidate.StatusReserved:
		set = append(set, bson.E{Key: "reservedAt", Value: now})
	case candidate.StatusDeleted:
		set = append(set, bson.E{Key: "deletedAt", Value: now})
	case candidate.StatusPending:
		unset = bson.A{"reservedAt", "usedAt", "deletedAt", "publishedAt"}
	}
	for _, e := range extra {
		// Caller values may start with "$" and must not be read as field paths.
		set = append(set, bson.E{Key: e.Key, Value: bson.D{{Key: "$literal", Value: e.Value}}})
	}
	p := mongo.Pipeline{{{Key: "$set", Value: set}}}
	if len(unset) > 0 {
		p = append(p, bson.D{{Key: "$unset", Value: unset}})
	}
	return p
}

func (s *Store) Claim(ctx context.Context, f candidate.ReserveFilter, now time.Time) (*candidate.Candidate, error) {
	filter := bson.M{"status": pendingFilter()}
	if f.Kind != "" {
		filter["kind"] = string(f.Kind)
	}
	if f.Language != "" {
		filter["language"] = f.Language
	}
	if len(f.Sources) > 0 {
		filter["source"] = bson.M{"$in": f.Sources}
	}
	update := bson.M{"$set": bson.M{"status": string(candidate.StatusReserved), "reservedAt": now}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "ratingPercent", Value: -1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var d document
	err := s.candidates.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreError(err, "claim candidate")
	}
	return d.candidate(), nil
}

func (s *Store) updateOne(ctx context.Context, id string, update interface{}, op string) error {
	res, err := s.candidates.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.StoreError(err, op)
	}
	if res.MatchedCount == 0 {
		return errors.NotFoundf("candidate %s not found", id)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status candidate.Status, notes *string, now time.Time) error {
	var extra bson.D
	if notes != nil {
		extra = bson.D{{Key: "notes", Value: *notes}}
	}
	return s.updateOne(ctx, id, statusPipeline(status, now, extra), "set status")
}

func (s *Store) MarkPublished(ctx context.Context, id string, meta candidate.PublishMeta, now time.Time) error {
	extra := bson.D{
		{Key: "publishedAt", Value: now},
		{Key: "youtubeVideoUrl", Value: meta.VideoURL},
		{Key: "youtubeVideoId", Value: meta.VideoID},
	}
	return s.updateOne(ctx, id, statusPipeline(candidate.StatusUsed, now, extra), "mark published")
}

func (s *Store) ResetStatuses(ctx context.Context, from []candidate.Status, to candidate.Status, now time.Time) (candidate.ResetResult, error) {
	res := candidate.ResetResult{Before: map[candidate.Status]int{}}
	filter := bson.M{"status": statusFilter(from)}

	counts, err := s.countByStatus(ctx, filter)
	if err != nil {
		return res, err
	}
	for _, sc := range counts {
		res.Before[sc.Status] = sc.Count
	}

	upd, err := s.candidates.UpdateMany(ctx, filter, statusPipeline(to, now, nil))
	if err != nil {
		return res, errors.StoreError(err, "reset statuses")
	}
	res.Modified = int(upd.ModifiedCount)
	return res, nil
}

func (s *Store) countByStatus(ctx context.Context, match bson.M) ([]candidate.StatusCount, error) {
	cur, err := s.candidates.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$status", string(candidate.StatusPending)}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, errors.StoreError(err, "count by status")
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.StoreError(err, "count by status")
	}
	out := make([]candidate.StatusCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, candidate.StatusCount{Status: candidate.Status(r.Status), Count: r.Count})
	}
	return out, nil
}

func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, note string) (int, error) {
	res, err := s.candidates.UpdateMany(ctx,
		bson.M{"status": string(candidate.StatusReserved), "reservedAt": bson.M{"$lt": cutoff}},
		bson.M{
			"$set":   bson.M{"status": string(candidate.StatusPending), "notes": note},
			"$unset": bson.M{"reservedAt": ""},
		})
	if err != nil {
		return 0, errors.StoreError(err, "reclaim stale")
	}
	return int(res.ModifiedCount), nil
}

// InsertNew inserts unordered so one duplicate does not stop the rest of
// the batch. Duplicate-key write errors mark the record as skipped.
func (s *Store) InsertNew(ctx context.Context, recs []queue.Record) ([]bool, error) {
	inserted := make([]bool, len(recs))
	if len(recs) == 0 {
		return inserted, nil
	}
	docs := make([]interface{}, len(recs))
	for i, r := range recs {
		docs[i] = toDocument(r)
		inserted[i] = true
	}

	_, err := s.candidates.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return inserted, nil
	}
	var bulk mongo.BulkWriteException
	if !errors.As(err, &bulk) || bulk.WriteConcernError != nil {
		return nil, errors.StoreError(err, "insert candidates")
	}
	for _, we := range bulk.WriteErrors {
		if we.Code != duplicateKeyCode {
			return nil, errors.StoreError(err, "insert candidates")
		}
		inserted[we.Index] = false
	}
	return inserted, nil
}

func (s *Store) Get(ctx context.Context, id string) (*candidate.Candidate, error) {
	var d document
	err := s.candidates.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFoundf("candidate %s not found", id)
	}
	if err != nil {
		return nil, errors.StoreError(err, "get candidate")
	}
	return d.candidate(), nil
}

func (s *Store) find(ctx context.Context, filter bson.M, limit int, op string) ([]*candidate.Candidate, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.candidates.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.StoreError(err, op)
	}
	defer cur.Close(ctx)

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.StoreError(err, op)
	}
	out := make([]*candidate.Candidate, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].candidate())
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, f candidate.ListFilter) ([]*candidate.Candidate, error) {
	return s.find(ctx, listFilter(f), f.Limit, "list candidates")
}

func (s *Store) SetEditedText(ctx context.Context, id, text string) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"editedText": text}}, "edit text")
}

func (s *Store) DeleteLongText(ctx context.Context, maxLen int, f candidate.ListFilter, note string, now time.Time) (int, error) {
	filter := listFilter(candidate.ListFilter{Kind: f.Kind, Language: f.Language})
	filter["status"] = pendingFilter()
	filter["$expr"] = bson.M{"$gt": bson.A{bson.M{"$strLenCP": "$text"}, maxLen}}

	res, err := s.candidates.UpdateMany(ctx, filter,
		statusPipeline(candidate.StatusDeleted, now, bson.D{{Key: "notes", Value: note}}))
	if err != nil {
		return 0, errors.StoreError(err, "delete long text")
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) CountDeleted(ctx context.Context) (int, error) {
	n, err := s.candidates.CountDocuments(ctx, bson.M{"status": string(candidate.StatusDeleted)})
	if err != nil {
		return 0, errors.StoreError(err, "count deleted")
	}
	return int(n), nil
}

func (s *Store) PurgeDeleted(ctx context.Context) (int, error) {
	res, err := s.candidates.DeleteMany(ctx, bson.M{"status": string(candidate.StatusDeleted)})
	if err != nil {
		return 0, errors.StoreError(err, "purge deleted")
	}
	return int(res.DeletedCount), nil
}

func (s *Store) Histogram(ctx context.Context, sampleSize int) (candidate.Histogram, error) {
	h := candidate.Histogram{Samples: map[candidate.Status][]*candidate.Candidate{}}
	counts, err := s.countByStatus(ctx, bson.M{})
	if err != nil {
		return h, err
	}
	h.ByStatus = counts
	for _, sc := range counts {
		h.Total += sc.Count
		samples, err := s.find(ctx, bson.M{"status": statusFilter([]candidate.Status{sc.Status})}, sampleSize, "histogram samples")
		if err != nil {
			return h, err
		}
		h.Samples[sc.Status] = samples
	}
	return h, nil
}

type stateDoc struct {
	Source        string    `bson:"source"`
	SourceKey     string    `bson:"sourceKey"`
	LastPage      int       `bson:"lastPage"`
	TotalFetched  int       `bson:"totalFetched"`
	LastFetchedAt time.Time `bson:"lastFetchedAt"`
}

func (s *Store) NextPage(ctx context.Context, source, key string) (int, error) {
	var st stateDoc
	err := s.state.FindOne(ctx, bson.M{"source": source, "sourceKey": key}).Decode(&st)
	if err == mongo.ErrNoDocuments {
		return 1, nil
	}
	if err != nil {
		return 0, errors.StoreError(err, "read ingest state")
	}
	return st.LastPage + 1, nil
}

func (s *Store) SaveState(ctx context.Context, source, key string, page, fetched int) error {
	_, err := s.state.UpdateOne(ctx,
		bson.M{"source": source, "sourceKey": key},
		bson.M{
			"$set":         bson.M{"lastPage": page, "lastFetchedAt": time.Now().UTC()},
			"$inc":         bson.M{"totalFetched": fetched},
			"$setOnInsert": bson.M{"source": source, "sourceKey": key},
		},
		options.Update().SetUpsert(true))
	return errors.StoreError(err, "save ingest state")
}
