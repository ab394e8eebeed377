package main

import (
	"context"
	"flag"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mealgate/internal/config"
	"mealgate/internal/meal"
	"mealgate/internal/rtdb"
	"mealgate/internal/store"
)

// Ops tool for the realtime store: wipes and reseeds the demo accounts,
// resets the counters, and drives the hardware slots directly. Replaces
// poking the store by hand during bring-up.
func main() {
	var (
		seed   = flag.Bool("seed", false, "wipe users/live_session/stats and seed demo accounts")
		door   = flag.String("door", "", "set hardware/door_lock (OPEN or LOCKED)")
		buzzer = flag.String("buzzer", "", "set hardware/buzzer (BEEP or OFF)")
	)
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	if cfg.StoreBackend == "memory" {
		log.Fatal("seed tool needs a shared store backend, not memory")
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Fatalf("redis not reachable at %s", cfg.RedisAddr)
	}
	rt := rtdb.NewRedisStore(redisClient.Client, cfg.StorePrefix)

	if *seed {
		if err := wipeAndSeed(ctx, rt, redisClient.Client, cfg.StorePrefix); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	}

	hw := meal.NewHardware(rt)
	switch *door {
	case "":
	case meal.DoorOpen:
		must(hw.OpenDoor(ctx), "door open")
	case meal.DoorLocked:
		must(hw.LockDoor(ctx), "door lock")
	default:
		log.Fatalf("invalid -door value %q", *door)
	}
	switch *buzzer {
	case "":
	case meal.BuzzerBeep:
		must(hw.Beep(ctx), "buzzer beep")
	case meal.BuzzerOff:
		must(hw.Silence(ctx), "buzzer off")
	default:
		log.Fatalf("invalid -buzzer value %q", *buzzer)
	}
}

func wipeAndSeed(ctx context.Context, rt rtdb.Store, client *redis.Client, prefix string) error {
	managerUID := uuid.NewString()
	studentUID := uuid.NewString()

	log.Println("wiping users, live_session, stats...")
	for _, pattern := range []string{"users/*", "live_session*", "stats/*"} {
		if err := deleteMatching(ctx, client, prefix+":"+pattern); err != nil {
			return err
		}
	}

	log.Println("seeding accounts...")
	if err := rt.Write(ctx, "users/"+managerUID, meal.StudentAccount{
		Name: "Jigar Alam (Manager)",
		Role: "manager",
	}); err != nil {
		return err
	}
	if err := rt.Write(ctx, "users/"+studentUID, meal.StudentAccount{
		Name:    "Piyal Chakraborty",
		Role:    "student",
		Balance: 100,
		PIN:     "1234",
	}); err != nil {
		return err
	}

	if err := rt.Write(ctx, "live_session", map[string]string{"state": meal.SessionIdle}); err != nil {
		return err
	}
	if err := meal.NewStats(rt).EnsureCounters(ctx); err != nil {
		return err
	}

	hw := meal.NewHardware(rt)
	if err := hw.LockDoor(ctx); err != nil {
		return err
	}
	if err := hw.Silence(ctx); err != nil {
		return err
	}

	log.Printf("seeded: manager=%s student=%s", managerUID, studentUID)
	return nil
}

// deleteMatching removes every key matching pattern. SCAN, not KEYS, so the
// tool is safe against a shared instance.
func deleteMatching(ctx context.Context, client *redis.Client, pattern string) error {
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func must(err error, what string) {
	if err != nil {
		log.Fatalf("%s failed: %v", what, err)
	}
}
