package server

import (
	"context"
	"strconv"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/upload"
)

// StreamReceiver consumes a file uploaded to a node. It runs with the UI
// lock held; the file is deleted from temporary storage when it returns.
type StreamReceiver func(ctx context.Context, file *upload.File) error

// receiversKey is the node data key of a node's stream receivers.
type receiversKey struct{}

// AddStreamReceiver registers r for uploads posted to
// UploadURL(node, name). Uploads are rejected while the node is disabled,
// inert or detached. Call it while holding the UI lock. The returned
// function removes the receiver.
func (u *UI) AddStreamReceiver(node *dom.Node, name string, r StreamReceiver) func() {
	receivers, _ := node.Data(receiversKey{}).(map[string]StreamReceiver)
	if receivers == nil {
		receivers = make(map[string]StreamReceiver)
		node.SetData(receiversKey{}, receivers)
	}
	receivers[name] = r
	return func() {
		delete(receivers, name)
	}
}

// UploadURL returns the path, relative to the UI endpoint prefix, that
// uploads for the named receiver of node are posted to.
func (u *UI) UploadURL(node *dom.Node, name string) string {
	return "/ui/" + u.id + "/upload/" + strconv.Itoa(int(node.ID())) + "/" + name
}

// receiverLocked returns the receiver for an upload, checking that the
// node can currently accept it.
func (u *UI) receiverLocked(id dom.NodeID, name string) (*dom.Node, StreamReceiver, error) {
	node, err := u.node(id)
	if err != nil {
		return nil, nil, err
	}
	receivers, _ := node.Data(receiversKey{}).(map[string]StreamReceiver)
	r := receivers[name]
	if r == nil {
		return nil, nil, ErrNoReceiver
	}
	switch {
	case !node.IsEnabled():
		return nil, nil, dom.ErrNodeDisabled
	case node.IsInert():
		return nil, nil, dom.ErrNodeInert
	}
	return node, r, nil
}

// receive claims an uploaded temp file and runs the receiver under the UI
// lock. The returned error is the receiver's.
func (u *UI) receive(ctx context.Context, store upload.Store, id dom.NodeID, name, tempID string) error {
	var recvErr error
	future := u.Access(func() {
		_, r, err := u.receiverLocked(id, name)
		if err != nil {
			recvErr = err
			return
		}
		file, err := store.Claim(ctx, tempID)
		if err != nil {
			recvErr = err
			return
		}
		defer file.Close()
		recvErr = r(ctx, file)
	})
	if err := future.Wait(ctx); err != nil {
		return err
	}
	return recvErr
}
