// Package upload receives files posted to a UI.
//
// Files travel over plain HTTP rather than the message channel, so a large
// upload never delays heartbeats or other invocations. The flow is:
//
//  1. The client posts a multipart form with a "file" part to the upload
//     URL of a node, /ui/{id}/upload/{node}/{name}.
//  2. Receive detects the content type from the bytes, applies Config and
//     streams the file into a Store, which returns a temp ID.
//  3. The server claims the temp file under the UI lock and hands it to the
//     stream receiver registered for the node.
//  4. Closing the claimed File deletes the temp copy.
//
// Two stores are provided. DiskStore keeps files in a local directory with
// JSON sidecars. S3Store keeps them in a bucket:
//
//	client := s3.New(s3.Options{Region: "eu-west-1", Credentials: creds})
//	store := upload.NewS3Store(client, "uploads-bucket", "tmp/", 50<<20)
//
// Unclaimed files are removed by Store.Cleanup, which the server runs
// periodically with Config.TempExpiry.
//
// # Security
//
// Config.AllowedTypes is checked against the type detected with
// http.DetectContentType. The Content-Type header of the part is ignored.
// Config.AllowedExtensions and Config.RequireExtensionMatch add checks on
// the file name.
package upload
