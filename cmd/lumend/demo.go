package main

import (
	"github.com/lumenstage/lumen/internal/catalog"
	"github.com/lumenstage/lumen/internal/model"
	"github.com/lumenstage/lumen/internal/repo"
)

// seedDemoShow populates the repository with a minimal patch and one graph
// instance: a single fader driving a single fixture's intensity. It exists
// so the binary has something to run the moment it starts, the way the
// teacher's own cli defaults to an empty named graph rather than refusing to
// start without a config file.
func seedDemoShow(r *repo.Repo) error {
	fm := model.FixtureModel{
		ID:    "par-rgb",
		Brand: "demo",
		Model: "PAR RGB",
		Channels: map[model.ChannelRole]int{
			model.RoleDimmer: 1,
			model.RoleRed:    2,
			model.RoleGreen:  3,
			model.RoleBlue:   4,
		},
	}
	if _, err := r.FixtureModels.Create(fm); err != nil {
		return err
	}

	fx := model.Fixture{ID: "fx1", Name: "Front Wash 1", ModelID: fm.ID, Universe: 0, StartChannel: 1}
	if _, err := r.Fixtures.Create(fx); err != nil {
		return err
	}

	fader := model.Input{ID: "masterFader", Name: "Master", Kind: model.InputFader}
	if _, err := r.Inputs.Create(fader); err != nil {
		return err
	}

	g := model.Graph{
		ID:      "demo-wash",
		Name:    "Demo Wash",
		Enabled: true,
		Nodes: []model.Node{
			{ID: "fader1", Type: catalog.Fader, Params: map[string]interface{}{"fader_id": fader.ID}},
			{ID: "sel1", Type: catalog.SelectFixture, Params: map[string]interface{}{"fixture_ids": []string{fx.ID}}},
			{ID: "out1", Type: catalog.WriteAttributes, Params: map[string]interface{}{"priority": 1.0}},
		},
		Edges: []model.Edge{
			{ID: "e1", From: model.PortRef{NodeID: "fader1", Port: "value"}, To: model.PortRef{NodeID: "out1", Port: "bundle"}},
			{ID: "e2", From: model.PortRef{NodeID: "sel1", Port: "selection"}, To: model.PortRef{NodeID: "out1", Port: "selection"}},
		},
	}
	_, err := r.Graphs.Create(g)
	return err
}
