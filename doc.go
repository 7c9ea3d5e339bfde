// Package ldfeed encodes typed entity trees as schema.org JSON-LD, validates
// the documents against a constraint set and attributes every failure back to
// the entity it came from.
//
// # Packages
//
// The module is organized in layers:
//
//   - descriptor: the type table generated for a schema.org release
//   - node: typed entity trees with explicit presence
//   - encoder: node trees to JSON-LD documents
//   - constraint: shape-based checks producing SHACL-style result graphs
//   - attribution: result graphs to per-entity records
//   - report: records, per-type aggregates and their renderings
//   - validator: the streaming validation session
//   - feed: ItemList and DataFeed writers
//   - sink: report publication to files and Redis
//   - protonode, source/sqlite: node trees from protobuf messages and a
//     SQLite catalogue
//
// # Getting Started
//
// A Pipeline ties a descriptor and a constraint set together:
//
//	p, err := ldfeed.New(ctx,
//		ldfeed.WithDescriptor(desc),
//		ldfeed.WithConstraints(constraint.FileSource{Path: "constraints.yaml"}),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	w, err := p.NewFeed(os.Stdout)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, movie := range movies {
//		if _, err := w.AddItem(ctx, movie, "Movie"); err != nil {
//			log.Fatal(err)
//		}
//	}
//	r, err := w.Close(ctx)
//
// The returned report lists every attributed result per entity type:
//
//	for _, typ := range r.Types {
//		for _, rec := range r.Records[typ] {
//			fmt.Println(rec.Source, rec.Path, rec.Severity, rec.Message)
//		}
//	}
//
// # Error Handling
//
// Errors wrap the sentinels in package feederr, so callers can branch with
// errors.Is:
//
//	if errors.Is(err, feederr.ErrMalformedNode) {
//		// the entity tree does not match the descriptor
//	}
//
// # Observability
//
// Validators emit one OpenTelemetry span per entity and count entities and
// results with metric counters. Logging uses log/slog throughout.
package ldfeed
