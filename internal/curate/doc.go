// Package curate turns HTML documents into clean text units in one target
// language.
//
// A document passes four stages:
//
//  1. Gate: the page must contain target-script characters, and one of its
//     title, lang attribute, meta descriptions or sampled h1/h2/h3/p/a texts
//     must be predicted as the target language.
//  2. Conversion to plain text; very short results are rejected.
//  3. Windowing around target-script runs; the document is rejected when
//     too little script text remains.
//  4. Sentence scoring from length, content-word ratio and digits. Sentences
//     scoring at least half the document maximum are kept, neighbours are
//     merged, and short or denylisted units are dropped.
//
// A rejection is not an error: Process just returns no units.
package curate
