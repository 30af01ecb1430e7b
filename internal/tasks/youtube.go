package tasks

import "github.com/jc-comp/karaoke-scheduler/internal/pipeline"

// BuildYoutubePipeline wires the exact DAG edges from
// original_source/karaoke/worker/pipeline/youtube.py (YoutubePipeline.
// build_pipeline): downloads identify in parallel with the separation
// chain, both feed into lyric mapping, and the final video waits on the
// subtitle track plus every audio/video source it mixes.
func BuildYoutubePipeline(deps *Deps) []*pipeline.Node {
	downloadVideo := pipeline.NewNode("download_video", "Download video", NewDownloadYoutubeVideo(deps))
	downloadAudio := pipeline.NewNode("download_audio", "Download audio", NewDownloadYoutubeAudio(deps))
	identify := pipeline.NewNode("identify", "Music identification", NewIdentifyMusic(deps))
	lyric := pipeline.NewNode("lyric", "Lyrics retrieval", NewFetchLyrics(deps))
	seperateVocal := pipeline.NewNode("seperate_vocal", "Vocal Separation", NewSeperateVocal(deps))
	seperateInstrument := pipeline.NewNode("seperate_instrument", "Instrument Separation", NewSeperateInstrument(deps))
	voiceActivity := pipeline.NewNode("voice_activity", "Voice activity detection", NewVoiceActivity(deps))
	transcript := pipeline.NewNode("transcript", "Lyrics Transcription", NewTranscriptLyrics(deps))
	mapping := pipeline.NewNode("mapping", "Merge transcription and lyrics", NewMapLyrics(deps))
	align := pipeline.NewNode("align", "Lyrics alignment", NewAlignLyrics(deps))
	subtitle := pipeline.NewNode("subtitle", "Subtitle Generation", NewGenerateSubtitle(deps))
	video := pipeline.NewNode("video", "Video Generation", NewGenerateVideo(deps))

	identify.AddPrerequisite(downloadVideo) // extract from downloaded metadata
	identify.AddPrerequisite(downloadAudio) // using the audio fingerprint

	lyric.AddPrerequisite(identify)
	lyric.AddPrerequisite(downloadVideo) // fall back to download metadata if identify finds nothing

	seperateVocal.AddPrerequisite(downloadAudio)
	seperateInstrument.AddPrerequisite(downloadAudio)
	seperateInstrument.AddPrerequisite(seperateVocal) // ensure one gpu task at a time

	voiceActivity.AddPrerequisite(seperateVocal)

	transcript.AddPrerequisite(voiceActivity) // using the trimmed track to reduce hallucination

	mapping.AddPrerequisite(lyric)
	mapping.AddPrerequisite(transcript)
	mapping.AddPrerequisite(seperateVocal) // carries the vocal-only preview track

	align.AddPrerequisite(seperateVocal)
	align.AddPrerequisite(mapping)

	subtitle.AddPrerequisite(align)

	video.AddPrerequisite(downloadVideo)
	video.AddPrerequisite(identify) // metadata for title/artist overlay
	video.AddPrerequisite(seperateInstrument)
	video.AddPrerequisite(seperateVocal) // production preview
	video.AddPrerequisite(subtitle)

	return []*pipeline.Node{
		downloadVideo, downloadAudio, identify, lyric,
		seperateVocal, seperateInstrument, voiceActivity,
		transcript, mapping, align, subtitle, video,
	}
}
