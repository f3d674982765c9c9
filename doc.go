/*
go-roadsense provides a dual-model traffic perception pipeline for Go.  It runs
a primary multi-task detector producing vehicle bounding boxes plus drivable
area and lane line segmentation masks, together with an auxiliary detector
specialised in pedestrians and traffic lights, then fuses both outputs into a
single renderable and persistable result set per frame.

Models are serialized ONNX weight files executed through ONNX Runtime.  The
root package wraps session loading and pooling, whilst the subpackages handle
preprocessing, output decoding, fusion, traffic semantics, rendering, history
persistence, resource monitoring, and batch scheduling.

See example code and usage in the example subdirectory.
*/
package roadsense
