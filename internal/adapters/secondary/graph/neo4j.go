package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
)

// Neo4jGraph lit le graphe (:User)-[:FOLLOWS]->(:User) maintenu par le service social.
// Lecture seule : aucune écriture depuis le ranking.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewNeo4jGraph(driver neo4j.DriverWithContext, dbName string) *Neo4jGraph {
	return &Neo4jGraph{driver: driver, dbName: dbName}
}

var _ ports.FollowGraph = (*Neo4jGraph)(nil)

func (g *Neo4jGraph) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.dbName,
	})
}

func (g *Neo4jGraph) FollowSet(ctx context.Context, viewerID string) ([]string, error) {
	session := g.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (:User {id: $viewerId})-[:FOLLOWS]->(f:User) RETURN f.id AS id`
		res, err := tx.Run(ctx, query, map[string]any{"viewerId": viewerID})
		if err != nil {
			return nil, err
		}

		ids := []string{}
		for res.Next(ctx) {
			id, _ := res.Record().Get("id")
			if s, ok := id.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j follow set: %w", handleError(err))
	}
	return result.([]string), nil
}

// MutualFollowCounts : pour chaque candidat, combien de comptes suivis par le viewer le suivent.
// Une seule requête pour tout le lot (UNWIND).
func (g *Neo4jGraph) MutualFollowCounts(ctx context.Context, viewerID string, candidateIDs []string) (map[string]int, error) {
	if len(candidateIDs) == 0 {
		return map[string]int{}, nil
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			UNWIND $candidateIds AS cid
			MATCH (v:User {id: $viewerId})-[:FOLLOWS]->(m:User)-[:FOLLOWS]->(c:User {id: cid})
			RETURN cid AS id, count(DISTINCT m) AS mutual
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"viewerId":     viewerID,
			"candidateIds": candidateIDs,
		})
		if err != nil {
			return nil, err
		}

		counts := make(map[string]int, len(candidateIDs))
		for res.Next(ctx) {
			rec := res.Record()
			id, _ := rec.Get("id")
			mutual, _ := rec.Get("mutual")
			s, ok := id.(string)
			n, okN := mutual.(int64)
			if ok && okN {
				counts[s] = int(n)
			}
		}
		return counts, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j mutual follows: %w", handleError(err))
	}
	return result.(map[string]int), nil
}

// handleError traduit les pannes du cluster en ErrStoreUnavailable.
// Le driver réessaie déjà les erreurs transitoires : un budget de retry épuisé est une panne.
// Une annulation client reste context.Canceled.
func handleError(err error) error {
	if err == nil {
		return nil
	}
	var (
		connErr  *neo4j.ConnectivityError
		limitErr *neo4j.TransactionExecutionLimit
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &limitErr), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
