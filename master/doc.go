// Package master provides the bitemporal master engine: a versioned and correctable
// document store with stable logical identity.
//
// Every stored record carries two time axes. The version axis records when a change
// became effective for the business, the correction axis records when a retroactive
// fix was made. A VersionCorrection coordinate selects exactly one record per object.
//
// Key types:
//   - ObjectID, UniqueID: logical identity and addressing of one stored record
//   - VersionCorrection: the (version-as-of, corrected-to) query coordinate
//   - DocumentMaster: add/get/update/correct/remove/history/search over a DocumentStorage
//   - PointSeriesMaster: the append-only date/value series attached to an object
//   - ChangeNotifier: receives one ChangeEvent per committed mutation
//
// Storage engines live in sub-packages (memengine, sqlengine) and implement the
// DocumentStorage and PointStorage interfaces.
//
// Common usage pattern:
//
//	docs, _ := master.NewDocumentMaster[Info](storage, "DbHts", validator, indexer,
//		master.WithLogger(logger),
//		master.WithNotifier(notifier),
//	)
//
//	doc, err := docs.Add(ctx, &info)
//	if err != nil {
//		// handle error
//	}
//
//	earlier, err := docs.GetAt(ctx, doc.UniqueID.ObjectID(), master.VersionCorrection{CorrectedTo: t0})
package master
