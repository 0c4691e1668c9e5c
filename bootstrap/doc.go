// Package bootstrap wires the entitycore components together: configuration,
// the entity manifest, the identifier and transition registries, the query
// cache, invalidation workers, the entity store and the entity service.
//
// Usage:
//
//	logger, sugar, _ := bootstrap.InitLogger()
//	cfg, err := bootstrap.InitConfig("", sugar)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	manifest, err := bootstrap.InitManifest(cfg, sugar)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	app, err := bootstrap.NewApp(ctx, cfg, manifest, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
