// Package graphql exposes cluster membership over a GraphQL endpoint.
package graphql

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/dd0wney/cluso-dbcluster/pkg/audit"
	"github.com/dd0wney/cluso-dbcluster/pkg/cluster"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// NewSchema builds the query and mutation schema over c. Mutations are
// recorded in recorder when it is non-nil.
func NewSchema(c *cluster.Cluster, recorder audit.Logger, logger logging.Logger) (graphql.Schema, error) {
	memberType := createMemberType(c)

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"clusterId": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return c.ID(), nil
				},
			},
			"members": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(memberType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return c.Members(), nil
				},
			},
			"activeMembers": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(memberType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return c.ActiveMembers(), nil
				},
			},
			"member": &graphql.Field{
				Type: memberType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.ID),
					},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, _ := p.Args["id"].(string)
					return c.Member(id)
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: createMutationType(c, memberType, newRecordFunc(recorder, logging.OrNop(logger))),
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create schema: %w", err)
	}
	return schema, nil
}

// createMemberType resolves fields of a *member.Member source.
func createMemberType(c *cluster.Cluster) *graphql.Object {
	field := func(t graphql.Output, get func(m *member.Member) (any, error)) *graphql.Field {
		return &graphql.Field{
			Type: t,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				m, ok := p.Source.(*member.Member)
				if !ok {
					return nil, nil
				}
				return get(m)
			},
		}
	}

	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Member",
		Fields: graphql.Fields{
			"id": field(graphql.NewNonNull(graphql.ID), func(m *member.Member) (any, error) {
				return m.ID, nil
			}),
			"driver": field(graphql.String, func(m *member.Member) (any, error) {
				return m.Source.Driver, nil
			}),
			"weight": field(graphql.Int, func(m *member.Member) (any, error) {
				return m.Weight, nil
			}),
			"local": field(graphql.Boolean, func(m *member.Member) (any, error) {
				return m.Local, nil
			}),
			"dirty": field(graphql.Boolean, func(m *member.Member) (any, error) {
				return m.IsDirty(), nil
			}),
			"state": field(graphql.NewNonNull(graphql.String), func(m *member.Member) (any, error) {
				st, err := c.MemberState(m.ID)
				if err != nil {
					return nil, err
				}
				return st.String(), nil
			}),
			// alive probes the database, so it is only paid for when selected.
			"alive": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					m, ok := p.Source.(*member.Member)
					if !ok {
						return nil, nil
					}
					return c.Probe(p.Context, m.ID) == nil, nil
				},
			},
		},
	})
}
