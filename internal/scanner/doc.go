// Package scanner reads QR codes from card photos and resolves them to card references.
//
// Frames come from a [FrameSource]: a list of files, a directory watched for new captures, or lines of text from
// a hardware scanner that types its result. Image frames are decoded by zbarimg when installed ([NativeDecoder])
// or by the bundled pure Go decoder ([SoftwareDecoder]).
//
// [Scanner.Scan] never fails on bad input. Unreadable images and payloads that do not name a card are skipped,
// and the frame that produced the previous result is ignored so one capture yields one scan.
package scanner
