package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/reflex/go/internal/dbconfig"
	"github.com/mcdev12/reflex/go/internal/round"
	"github.com/mcdev12/reflex/go/internal/round/repository/db"
)

// Game mirrors the JSON fixture
type Game struct {
	ID           uuid.UUID       `json:"id"`
	AdminID      uuid.UUID       `json:"admin_id"`
	Token        string          `json:"token"`
	Settings     json.RawMessage `json:"settings"`
	Participants []Participant   `json:"participants"`
}

type Participant struct {
	ID         uuid.UUID  `json:"id"`
	TeamID     *uuid.UUID `json:"team_id"`
	Name       string     `json:"name"`
	AvatarSeed string     `json:"avatar_seed"`
}

func main() {
	path := "go/internal/assets/games.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var games []Game
	if err := json.Unmarshal(data, &games); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "database config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Upsert and count
	var (
		inserted int
		skipped  int
		errs     int
	)
	count := func(rows int64, err error, what string, id uuid.UUID) {
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "error inserting %s %s: %v\n", what, id, err)
			errs++
		case rows == 1:
			inserted++
		default:
			skipped++
		}
	}

	for _, g := range games {
		token, err := round.NormalizeGameToken(g.Token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "game %s: %v\n", g.ID, err)
			errs++
			continue
		}
		var settings []byte
		if len(g.Settings) > 0 {
			settings = g.Settings
		}

		tag, err := pool.Exec(ctx, `
            INSERT INTO games (id, admin_id, token, settings)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT DO NOTHING
        `, g.ID, g.AdminID, token, settings)
		count(tag.RowsAffected(), err, "game", g.ID)

		for _, p := range g.Participants {
			var avatar *string
			if p.AvatarSeed != "" {
				avatar = &p.AvatarSeed
			}
			tag, err := pool.Exec(ctx, `
                INSERT INTO participants (id, game_id, team_id, name, avatar_seed)
                VALUES ($1, $2, $3, $4, $5)
                ON CONFLICT (id) DO NOTHING
            `, p.ID, g.ID, p.TeamID, p.Name, avatar)
			count(tag.RowsAffected(), err, "participant", p.ID)
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Game seed complete: %d games, %d inserted, %d skipped, %d errors\n",
		len(games), inserted, skipped, errs,
	)
}
