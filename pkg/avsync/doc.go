// ABOUTME: Playback session package
// ABOUTME: High-level API for synchronized audio/video playback
// Package avsync plays synchronized audio and video streams.
//
// A Session owns the shared clock controller and one renderer per stream.
// Presenters that pace themselves against an output device implement
// ClockedPresenter and become the master clock; the other streams follow the
// master through soft re-syncs.
//
// Example:
//
//	sess, err := avsync.NewSession(avsync.Config{
//		Audio: speaker,
//		Video: display,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sess.Close()
//
//	go sess.Feed(ctx, source.NewTone(48000, 2, 0), avsync.LoopForever)
//
//	events, cancel := sess.Subscribe()
//	defer cancel()
//	for e := range events {
//		fmt.Println(e.Name, e.Position)
//	}
package avsync
