// Package pipeline connects the stages that turn a compressed WARC segment
// into curated text units.
//
// A segment is opened with OpenSegment, either through the ranged
// downloader or as a single GET body, and handed to one of OpenRecords,
// OpenDocuments or OpenUnits. Each returns a pull-based Stream whose stages
// run in their own goroutines joined by bounded channels:
//
//	src, err := pipeline.OpenSegment(ctx, client, url, opts)
//	if err != nil {
//	    return err
//	}
//	units, err := pipeline.OpenUnits(ctx, src, opts)
//	if err != nil {
//	    return err
//	}
//	defer units.Close()
//
//	for {
//	    u, err := units.Next(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // use u
//	}
//
// Item-level failures (non-response records, undecodable payloads,
// rejected documents) are counted in Stats and logged at debug level.
// Framing errors end the stream.
package pipeline
