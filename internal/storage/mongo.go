package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps each family in its own collection, one document per
// project_id, the layout the dashboard database has always used.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger logrus.FieldLogger

	indexed sync.Map // collection -> struct{}
}

// NewMongoStore connects and pings the server.
func NewMongoStore(ctx context.Context, uri, database string, logger logrus.FieldLogger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.DatabaseError(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, errors.DatabaseError(err, "ping mongodb")
	}
	log := logger.WithField("component", "mongo")
	log.WithField("database", database).Info("mongodb store connected")
	return &MongoStore{client: client, db: client.Database(database), logger: log}, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// UpsertDocument uses ReplaceOne for replace mode and a per-month $set for
// merge mode; both are single-document atomic writes on the server.
func (s *MongoStore) UpsertDocument(ctx context.Context, collection string, doc *models.MonthDocument, mode UpsertMode) error {
	coll := s.db.Collection(collection)
	if err := s.ensureIndex(ctx, coll); err != nil {
		return err
	}
	filter := bson.D{{Key: "project_id", Value: doc.ProjectID}}

	var err error
	if mode == ModeMerge {
		set := map[string]interface{}{
			"project_id":   doc.ProjectID,
			"project_name": doc.ProjectName,
			"last_fetched": doc.LastFetched,
		}
		for month, raw := range doc.Months {
			set["months."+month] = raw
		}
		var setDoc bson.D
		if setDoc, err = toBSON(set); err != nil {
			return errors.InternalErrorf("encode %s/%s: %v", collection, doc.ProjectID, err)
		}
		_, err = coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: setDoc}}, options.Update().SetUpsert(true))
	} else {
		var replacement bson.D
		if replacement, err = toBSON(applyUpsert(nil, doc, ModeReplace)); err != nil {
			return errors.InternalErrorf("encode %s/%s: %v", collection, doc.ProjectID, err)
		}
		_, err = coll.ReplaceOne(ctx, filter, replacement, options.Replace().SetUpsert(true))
	}
	if err != nil {
		return errors.DatabaseErrorf(err, "upsert %s/%s", collection, doc.ProjectID)
	}
	return nil
}

func (s *MongoStore) GetDocument(ctx context.Context, collection, projectID string) (*models.MonthDocument, error) {
	var doc models.MonthDocument
	if err := s.findOne(ctx, collection, projectID, &doc); err != nil {
		return nil, err
	}
	if doc.Months == nil {
		doc.Months = map[string]json.RawMessage{}
	}
	return &doc, nil
}

func (s *MongoStore) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	values, err := s.db.Collection(collection).Distinct(ctx, "project_id", bson.D{})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list %s", collection)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MongoStore) SaveProject(ctx context.Context, collection string, project *models.Project) error {
	if err := s.ensureIndex(ctx, s.db.Collection(collection)); err != nil {
		return err
	}
	replacement, err := toBSON(project)
	if err != nil {
		return errors.InternalErrorf("encode project %s: %v", project.ProjectID, err)
	}
	_, err = s.db.Collection(collection).ReplaceOne(ctx,
		bson.D{{Key: "project_id", Value: project.ProjectID}}, replacement, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.DatabaseErrorf(err, "save project %s", project.ProjectID)
	}
	return nil
}

func (s *MongoStore) GetProject(ctx context.Context, collection, projectID string) (*models.Project, error) {
	var p models.Project
	if err := s.findOne(ctx, collection, projectID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MongoStore) ListProjects(ctx context.Context, collection string) ([]*models.Project, error) {
	cur, err := s.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "project_id", Value: 1}}))
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list projects in %s", collection)
	}
	defer cur.Close(ctx)

	out := []*models.Project{}
	for cur.Next(ctx) {
		var p models.Project
		if err := fromBSON(cur.Current, &p); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable project document")
			continue
		}
		out = append(out, &p)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.DatabaseErrorf(err, "list projects in %s", collection)
	}
	return out, nil
}

// SaveRepository upserts by name with $set, so fields written by other
// tools on the same document survive.
func (s *MongoStore) SaveRepository(ctx context.Context, repo *models.OrgRepo) error {
	fields, err := toBSON(repo)
	if err != nil {
		return errors.InternalErrorf("encode repository %s: %v", repo.Name, err)
	}
	_, err = s.db.Collection(models.RepositoryCollection).UpdateOne(ctx,
		bson.D{{Key: "name", Value: repo.Name}},
		bson.D{{Key: "$set", Value: fields}},
		options.Update().SetUpsert(true))
	if err != nil {
		return errors.DatabaseErrorf(err, "save repository %s", repo.Name)
	}
	return nil
}

func (s *MongoStore) ListRepositories(ctx context.Context) ([]*models.OrgRepo, error) {
	cur, err := s.db.Collection(models.RepositoryCollection).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list repositories")
	}
	defer cur.Close(ctx)

	out := []*models.OrgRepo{}
	for cur.Next(ctx) {
		var r models.OrgRepo
		if err := fromBSON(cur.Current, &r); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable repository document")
			continue
		}
		out = append(out, &r)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.DatabaseErrorf(err, "list repositories")
	}
	return out, nil
}

// ensureIndex makes project_id unique so racing upserts of a new key
// resolve to one document.
func (s *MongoStore) ensureIndex(ctx context.Context, coll *mongo.Collection) error {
	if _, done := s.indexed.Load(coll.Name()); done {
		return nil
	}
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "project_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.DatabaseErrorf(err, "index %s.project_id", coll.Name())
	}
	s.indexed.Store(coll.Name(), struct{}{})
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, collection, projectID string, out interface{}) error {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "project_id", Value: projectID}}).Raw()
	if err != nil {
		if stderrors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return errors.DatabaseErrorf(err, "get %s/%s", collection, projectID)
	}
	if err := fromBSON(raw, out); err != nil {
		return errors.DatabaseErrorf(err, "decode %s/%s", collection, projectID)
	}
	return nil
}

// toBSON and fromBSON go through relaxed extended JSON so json tags and
// json.RawMessage month payloads are honoured on both sides.
func toBSON(v interface{}) (bson.D, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON(data, false, &d); err != nil {
		return nil, fmt.Errorf("to bson: %w", err)
	}
	return d, nil
}

func fromBSON(raw bson.Raw, out interface{}) error {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
