package main

import (
	"context"
	"fmt"

	"judgehub/internal/contest/model"
	problemModel "judgehub/internal/problem/model"
	"judgehub/internal/store/memory"
)

type seedStage struct {
	Name                    string `yaml:"name"`
	Start                   int64  `yaml:"start"`
	ForceRunning            bool   `yaml:"forceRunning"`
	SolutionEnabled         bool   `yaml:"solutionEnabled"`
	RanklistSkipCalculation bool   `yaml:"ranklistSkipCalculation"`
}

type seedRanklist struct {
	Key        string `yaml:"key"`
	Name       string `yaml:"name"`
	Visibility string `yaml:"visibility"`
}

type seedProblem struct {
	ID            string `yaml:"id"`
	OrgID         string `yaml:"orgId"`
	Title         string `yaml:"title"`
	Label         string `yaml:"label"`
	InstanceLabel string `yaml:"instanceLabel"`
	DataHash      string `yaml:"dataHash"`
}

type seedContest struct {
	ID        string         `yaml:"id"`
	OrgID     string         `yaml:"orgId"`
	Title     string         `yaml:"title"`
	Stages    []seedStage    `yaml:"stages"`
	Ranklists []seedRanklist `yaml:"ranklists"`
	// Problems maps problem keys (A, B, ...) to problem ids.
	Problems map[string]string `yaml:"problems"`
}

type seedData struct {
	Problems []seedProblem `yaml:"problems"`
	Contests []seedContest `yaml:"contests"`
}

// seedMemoryStore loads fixtures for running the coordinator without MySQL.
func seedMemoryStore(ctx context.Context, store *memory.Store, path string) error {
	var data seedData
	if err := loadYAML(path, &data); err != nil {
		return err
	}
	for _, p := range data.Problems {
		store.Problems.Put(problemModel.Problem{
			ID:            p.ID,
			OrgID:         p.OrgID,
			Title:         p.Title,
			Label:         p.Label,
			InstanceLabel: p.InstanceLabel,
			DataHash:      p.DataHash,
		})
	}
	for _, sc := range data.Contests {
		c := &model.Contest{
			ID:            sc.ID,
			OrgID:         sc.OrgID,
			Title:         sc.Title,
			RanklistState: model.RanklistInvalid,
		}
		for _, st := range sc.Stages {
			c.Stages = append(c.Stages, model.Stage{
				Name:  st.Name,
				Start: st.Start,
				Settings: model.StageSettings{
					ForceRunning:            st.ForceRunning,
					SolutionEnabled:         st.SolutionEnabled,
					RanklistSkipCalculation: st.RanklistSkipCalculation,
				},
			})
		}
		if err := model.ValidateStages(c.Stages); err != nil {
			return fmt.Errorf("seed contest %s: %w", sc.ID, err)
		}
		for _, rl := range sc.Ranklists {
			c.Ranklists = append(c.Ranklists, model.Ranklist{Key: rl.Key, Name: rl.Name, Visibility: rl.Visibility})
		}
		if err := store.Contests.Create(ctx, c); err != nil {
			return fmt.Errorf("seed contest %s: %w", sc.ID, err)
		}
		for key, problemID := range sc.Problems {
			store.Problems.PutContestProblem(problemModel.ContestProblem{ContestID: sc.ID, ProblemID: problemID, Key: key})
		}
	}
	return nil
}
